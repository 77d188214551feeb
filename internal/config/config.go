package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all configuration
type Config struct {
	MySQL    MySQLConfig
	Redis    RedisConfig
	JWT      JWTConfig
	HTTPAddr string
	Migrate  bool

	Zone      ZoneConfig
	ACME      ACMEConfig
	Store     StoreConfig
	Rotation  RotationConfig
	Challenge ChallengeConfig

	// Identities maps service name to hostname under the zone
	Identities map[string]string
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	DSN string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// ZoneConfig holds the authoritative DNS zone and provider credentials
type ZoneConfig struct {
	Name            string // zone apex, e.g. "internal.example.com"
	ProviderZoneID  string // Cloudflare zone ID
	CloudflareEmail string
	CloudflareToken string
	Nameservers     []string // recursive resolvers used for propagation checks

	// HostTargets maps an identity name to the address its hostname should
	// resolve to: an IP yields an A record, anything else a CNAME. Optional
	// per identity; hostnames managed elsewhere need no entry.
	HostTargets map[string]string
}

// ACMEConfig holds certificate authority configuration
type ACMEConfig struct {
	DirectoryURL string
	Email        string
	EabKid       string
	EabHmacKey   string
	// LocalIssuer switches issuance to a self-signed local CA for offline
	// development; no ACME or DNS provider traffic is generated.
	LocalIssuer bool
}

// StoreConfig holds certificate store configuration
type StoreConfig struct {
	// MasterKeyHex is the 32-byte secretbox key (64 hex chars) that seals
	// private keys at rest
	MasterKeyHex string
}

// RotationConfig holds rotation scheduler configuration
type RotationConfig struct {
	Enabled                bool
	IntervalSec            int
	RenewBeforeDays        int
	MaxConsecutiveFailures int
	Concurrency            int
}

// ChallengeConfig holds DNS-01 timing limits
type ChallengeConfig struct {
	PropagationTimeoutSec int // deadline for the TXT record to resolve
	PollIntervalSec       int // initial propagation poll interval
	OrderTimeoutSec       int // hard deadline for one issuance workflow
	RateLimitRetryHours   int // scheduler backoff after a quota response
}

// MasterKey decodes the hex seal key. Length is validated in Load.
func (s StoreConfig) MasterKey() [32]byte {
	var key [32]byte
	raw, _ := hex.DecodeString(s.MasterKeyHex)
	copy(key[:], raw)
	return key
}

// IdentityNames returns the configured service names in stable order
func (c *Config) IdentityNames() []string {
	names := make([]string, 0, len(c.Identities))
	for name := range c.Identities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load loads configuration from environment variables, optionally overlaid on
// an INI file named by CONFIG_FILE. Precedence: ENV > INI > default.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	var cfgFile *ini.File
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		f, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load INI file: %w", err)
		}
		cfgFile = f
	}

	get := func(envKey, iniSection, iniKey, defaultValue string) string {
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		if cfgFile != nil {
			if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
				return value
			}
		}
		return defaultValue
	}

	getInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		if cfgFile != nil && cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	getBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		if cfgFile != nil && cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: get("MYSQL_DSN", "mysql", "dsn", ""),
		},
		Redis: RedisConfig{
			Addr:     get("REDIS_ADDR", "redis", "addr", "localhost:6379"),
			Password: get("REDIS_PASS", "redis", "pass", ""),
			DB:       getInt("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret:        get("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: getInt("JWT_EXPIRE_MINUTES", "jwt", "expire_minutes", 1440),
			Issuer:        get("JWT_ISSUER", "jwt", "issuer", "certmesh"),
		},
		HTTPAddr: get("HTTP_ADDR", "http", "addr", ":8080"),
		Migrate:  getBool("MIGRATE", "app", "migrate", false),
		Zone: ZoneConfig{
			Name:            get("ZONE_NAME", "zone", "name", ""),
			ProviderZoneID:  get("ZONE_PROVIDER_ZONE_ID", "zone", "provider_zone_id", ""),
			CloudflareEmail: get("CLOUDFLARE_EMAIL", "zone", "cloudflare_email", ""),
			CloudflareToken: get("CLOUDFLARE_API_TOKEN", "zone", "cloudflare_api_token", ""),
			Nameservers:     splitList(get("ZONE_NAMESERVERS", "zone", "nameservers", "8.8.8.8:53,1.1.1.1:53")),
		},
		ACME: ACMEConfig{
			DirectoryURL: get("ACME_DIRECTORY_URL", "acme", "directory_url", "https://acme-v02.api.letsencrypt.org/directory"),
			Email:        get("ACME_EMAIL", "acme", "email", ""),
			EabKid:       get("ACME_EAB_KID", "acme", "eab_kid", ""),
			EabHmacKey:   get("ACME_EAB_HMAC_KEY", "acme", "eab_hmac_key", ""),
			LocalIssuer:  getBool("ACME_LOCAL_ISSUER", "acme", "local_issuer", false),
		},
		Store: StoreConfig{
			MasterKeyHex: get("STORE_MASTER_KEY", "store", "master_key", ""),
		},
		Rotation: RotationConfig{
			Enabled:                getBool("ROTATION_ENABLED", "rotation", "enabled", true),
			IntervalSec:            getInt("ROTATION_INTERVAL_SEC", "rotation", "interval_sec", 300),
			RenewBeforeDays:        getInt("ROTATION_RENEW_BEFORE_DAYS", "rotation", "renew_before_days", 30),
			MaxConsecutiveFailures: getInt("ROTATION_MAX_FAILURES", "rotation", "max_failures", 3),
			Concurrency:            getInt("ROTATION_CONCURRENCY", "rotation", "concurrency", 4),
		},
		Challenge: ChallengeConfig{
			PropagationTimeoutSec: getInt("CHALLENGE_PROPAGATION_TIMEOUT_SEC", "challenge", "propagation_timeout_sec", 120),
			PollIntervalSec:       getInt("CHALLENGE_POLL_INTERVAL_SEC", "challenge", "poll_interval_sec", 5),
			OrderTimeoutSec:       getInt("CHALLENGE_ORDER_TIMEOUT_SEC", "challenge", "order_timeout_sec", 600),
			RateLimitRetryHours:   getInt("CHALLENGE_RATE_LIMIT_RETRY_HOURS", "challenge", "rate_limit_retry_hours", 4),
		},
	}

	identities, err := parseIdentities(get("MESH_IDENTITIES", "", "", ""), cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.Identities = identities

	targets, err := parseHostTargets(get("MESH_HOST_TARGETS", "", "", ""), cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.Zone.HostTargets = targets

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks required fields and the identity/zone mapping
func (c *Config) validate() error {
	if c.MySQL.DSN == "" {
		return fmt.Errorf("MYSQL_DSN is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Zone.Name == "" {
		return fmt.Errorf("ZONE_NAME is required")
	}
	if !c.ACME.LocalIssuer {
		if c.Zone.ProviderZoneID == "" || c.Zone.CloudflareToken == "" {
			return fmt.Errorf("ZONE_PROVIDER_ZONE_ID and CLOUDFLARE_API_TOKEN are required")
		}
		if c.ACME.Email == "" {
			return fmt.Errorf("ACME_EMAIL is required")
		}
	}
	if len(c.Identities) == 0 {
		return fmt.Errorf("MESH_IDENTITIES is required (at least one name=hostname pair)")
	}
	if err := ValidateIdentities(c.Zone.Name, c.Identities); err != nil {
		return err
	}
	for name := range c.Zone.HostTargets {
		if _, ok := c.Identities[name]; !ok {
			return fmt.Errorf("host target %q does not match any configured identity", name)
		}
	}
	if c.Rotation.IntervalSec <= 0 {
		return fmt.Errorf("ROTATION_INTERVAL_SEC must be positive")
	}
	if c.Challenge.PropagationTimeoutSec <= 0 || c.Challenge.PollIntervalSec <= 0 {
		return fmt.Errorf("challenge propagation timeout and poll interval must be positive")
	}
	if c.Challenge.OrderTimeoutSec <= 0 {
		return fmt.Errorf("CHALLENGE_ORDER_TIMEOUT_SEC must be positive")
	}
	if len(c.Store.MasterKeyHex) != 64 {
		return fmt.Errorf("STORE_MASTER_KEY must be 64 hex characters (32 bytes)")
	}
	if _, err := hex.DecodeString(c.Store.MasterKeyHex); err != nil {
		return fmt.Errorf("STORE_MASTER_KEY is not valid hex: %w", err)
	}
	return nil
}

// ValidateIdentities checks that every hostname is a name strictly under the
// zone apex. A hostname outside the zone is a configuration error: no
// certificate request may ever target it.
func ValidateIdentities(zone string, identities map[string]string) error {
	zone = strings.TrimSuffix(strings.TrimSpace(zone), ".")
	for name, hostname := range identities {
		hostname = strings.TrimSuffix(strings.TrimSpace(hostname), ".")
		if name == "" || hostname == "" {
			return fmt.Errorf("identity mapping has empty name or hostname")
		}
		if hostname == zone || !strings.HasSuffix(hostname, "."+zone) {
			return fmt.Errorf("identity %q: hostname %q is not under zone %q", name, hostname, zone)
		}
	}
	return nil
}

// ParseIdentityList parses "name=hostname,name=hostname" pairs
func ParseIdentityList(raw string) (map[string]string, error) {
	identities := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid identity mapping %q (want name=hostname)", pair)
		}
		name := strings.TrimSpace(parts[0])
		hostname := strings.TrimSuffix(strings.TrimSpace(parts[1]), ".")
		if name == "" || hostname == "" {
			return nil, fmt.Errorf("invalid identity mapping %q (empty name or hostname)", pair)
		}
		if _, exists := identities[name]; exists {
			return nil, fmt.Errorf("duplicate identity %q", name)
		}
		identities[name] = hostname
	}
	return identities, nil
}

// parseHostTargets reads the optional identity-to-address mapping from the
// env list or the [host_targets] INI section
func parseHostTargets(envList string, cfgFile *ini.File) (map[string]string, error) {
	if envList != "" {
		targets := make(map[string]string)
		for _, pair := range strings.Split(envList, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			parts := strings.SplitN(pair, "=", 2)
			if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
				return nil, fmt.Errorf("invalid host target %q (want name=address)", pair)
			}
			targets[strings.TrimSpace(parts[0])] = strings.TrimSuffix(strings.TrimSpace(parts[1]), ".")
		}
		return targets, nil
	}
	targets := make(map[string]string)
	if cfgFile != nil {
		for _, key := range cfgFile.Section("host_targets").Keys() {
			targets[key.Name()] = strings.TrimSuffix(strings.TrimSpace(key.String()), ".")
		}
	}
	return targets, nil
}

// parseIdentities reads identities from the env list or the [identities] INI
// section (one key = value pair per identity)
func parseIdentities(envList string, cfgFile *ini.File) (map[string]string, error) {
	if envList != "" {
		return ParseIdentityList(envList)
	}
	identities := make(map[string]string)
	if cfgFile != nil {
		for _, key := range cfgFile.Section("identities").Keys() {
			identities[key.Name()] = strings.TrimSuffix(strings.TrimSpace(key.String()), ".")
		}
	}
	return identities, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
