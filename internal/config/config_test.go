package config

import (
	"testing"
)

func TestParseIdentityList(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]string
		wantErr bool
	}{
		{
			name: "single pair",
			raw:  "content-collector=collector.internal.example.com",
			want: map[string]string{"content-collector": "collector.internal.example.com"},
		},
		{
			name: "multiple pairs with spaces",
			raw:  "collector=collector.internal.example.com, processor = processor.internal.example.com",
			want: map[string]string{
				"collector": "collector.internal.example.com",
				"processor": "processor.internal.example.com",
			},
		},
		{
			name: "trailing dot is stripped",
			raw:  "collector=collector.internal.example.com.",
			want: map[string]string{"collector": "collector.internal.example.com"},
		},
		{
			name:    "missing equals sign",
			raw:     "collector.internal.example.com",
			wantErr: true,
		},
		{
			name:    "duplicate identity",
			raw:     "a=a.example.com,a=b.example.com",
			wantErr: true,
		},
		{
			name:    "empty hostname",
			raw:     "collector=",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIdentityList(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseIdentityList(%q) expected error, got %v", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseIdentityList(%q) unexpected error: %v", tt.raw, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d identities, want %d", len(got), len(tt.want))
			}
			for name, hostname := range tt.want {
				if got[name] != hostname {
					t.Errorf("identity %q = %q, want %q", name, got[name], hostname)
				}
			}
		})
	}
}

func TestParseHostTargets(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]string
		wantErr bool
	}{
		{
			name: "IP and CNAME targets",
			raw:  "collector=10.0.4.21, processor=lb.internal.example.com.",
			want: map[string]string{
				"collector": "10.0.4.21",
				"processor": "lb.internal.example.com",
			},
		},
		{
			name: "empty list",
			raw:  "",
			want: map[string]string{},
		},
		{
			name:    "missing address",
			raw:     "collector=",
			wantErr: true,
		},
		{
			name:    "missing equals sign",
			raw:     "10.0.4.21",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseHostTargets(tt.raw, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseHostTargets(%q) expected error, got %v", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseHostTargets(%q) unexpected error: %v", tt.raw, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d targets, want %d", len(got), len(tt.want))
			}
			for name, target := range tt.want {
				if got[name] != target {
					t.Errorf("target %q = %q, want %q", name, got[name], target)
				}
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		MySQL:    MySQLConfig{DSN: "user:pass@tcp(localhost:3306)/certmesh"},
		JWT:      JWTConfig{Secret: "secret"},
		HTTPAddr: ":8080",
		Zone: ZoneConfig{
			Name:            "internal.example.com",
			ProviderZoneID:  "zone-1",
			CloudflareToken: "token",
		},
		ACME:  ACMEConfig{Email: "ops@example.com"},
		Store: StoreConfig{MasterKeyHex: "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"},
		Rotation: RotationConfig{
			IntervalSec:            300,
			RenewBeforeDays:        30,
			MaxConsecutiveFailures: 3,
			Concurrency:            4,
		},
		Challenge: ChallengeConfig{
			PropagationTimeoutSec: 120,
			PollIntervalSec:       5,
			OrderTimeoutSec:       600,
		},
		Identities: map[string]string{"collector": "collector.internal.example.com"},
	}
}

func TestValidateTimings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "valid config passes",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero rotation interval",
			mutate:  func(c *Config) { c.Rotation.IntervalSec = 0 },
			wantErr: true,
		},
		{
			name:    "negative rotation interval",
			mutate:  func(c *Config) { c.Rotation.IntervalSec = -5 },
			wantErr: true,
		},
		{
			name:    "zero propagation timeout",
			mutate:  func(c *Config) { c.Challenge.PropagationTimeoutSec = 0 },
			wantErr: true,
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Challenge.PollIntervalSec = 0 },
			wantErr: true,
		},
		{
			name:    "zero order timeout",
			mutate:  func(c *Config) { c.Challenge.OrderTimeoutSec = 0 },
			wantErr: true,
		},
		{
			name: "host target for unknown identity",
			mutate: func(c *Config) {
				c.Zone.HostTargets = map[string]string{"ghost": "10.0.4.21"}
			},
			wantErr: true,
		},
		{
			name: "host target for known identity",
			mutate: func(c *Config) {
				c.Zone.HostTargets = map[string]string{"collector": "10.0.4.21"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr && err == nil {
				t.Errorf("validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("validate() unexpected error: %v", err)
			}
		})
	}
}

func TestValidateIdentities(t *testing.T) {
	tests := []struct {
		name       string
		zone       string
		identities map[string]string
		wantErr    bool
	}{
		{
			name:       "hostname under zone is valid",
			zone:       "internal.example.com",
			identities: map[string]string{"collector": "collector.internal.example.com"},
		},
		{
			name:       "nested hostname under zone is valid",
			zone:       "internal.example.com",
			identities: map[string]string{"collector": "a.b.internal.example.com"},
		},
		{
			name:       "hostname equal to zone apex is rejected",
			zone:       "internal.example.com",
			identities: map[string]string{"collector": "internal.example.com"},
			wantErr:    true,
		},
		{
			name:       "hostname outside zone is rejected",
			zone:       "internal.example.com",
			identities: map[string]string{"collector": "collector.example.org"},
			wantErr:    true,
		},
		{
			name:       "suffix collision without dot boundary is rejected",
			zone:       "internal.example.com",
			identities: map[string]string{"collector": "evilinternal.example.com"},
			wantErr:    true,
		},
		{
			name:       "trailing dots tolerated",
			zone:       "internal.example.com.",
			identities: map[string]string{"collector": "collector.internal.example.com."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentities(tt.zone, tt.identities)
			if tt.wantErr && err == nil {
				t.Errorf("ValidateIdentities() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateIdentities() unexpected error: %v", err)
			}
		})
	}
}
