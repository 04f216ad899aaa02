package app

import (
	"os"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		defValue string
		want     string
	}{
		{
			name:     "env set",
			envKey:   "TEST_ENV_VAR",
			envValue: "custom_value",
			defValue: "default",
			want:     "custom_value",
		},
		{
			name:     "env not set",
			envKey:   "TEST_ENV_VAR_NOTSET",
			envValue: "",
			defValue: "default",
			want:     "default",
		},
		{
			name:     "empty default",
			envKey:   "TEST_ENV_VAR_EMPTY",
			envValue: "",
			defValue: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenv(tt.envKey, tt.defValue)
			if got != tt.want {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.envKey, tt.defValue, got, tt.want)
			}
		})
	}
}

func TestGetenvInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      int
		want     int
	}{
		{name: "valid", envValue: "14", def: 0, want: 14},
		{name: "unset uses default", envValue: "", def: 30, want: 30},
		{name: "garbage uses default", envValue: "two weeks", def: 30, want: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv("TEST_INT_VAR", tt.envValue)
				defer os.Unsetenv("TEST_INT_VAR")
			}
			if got := getenvInt("TEST_INT_VAR", tt.def); got != tt.want {
				t.Errorf("getenvInt = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetenvBool(t *testing.T) {
	os.Setenv("TEST_BOOL_VAR", "false")
	defer os.Unsetenv("TEST_BOOL_VAR")
	if getenvBool("TEST_BOOL_VAR", true) {
		t.Error("explicit false should override the default")
	}
	if !getenvBool("TEST_BOOL_VAR_UNSET", true) {
		t.Error("unset should use the default")
	}
}

func TestLoadConfigJWTExpiry(t *testing.T) {
	os.Setenv("JWT_EXPIRY", "45m")
	defer os.Unsetenv("JWT_EXPIRY")
	cfg := LoadConfigFromEnv()
	if cfg.JWTExpiry != 45*time.Minute {
		t.Errorf("JWTExpiry = %v, want 45m", cfg.JWTExpiry)
	}

	os.Setenv("JWT_EXPIRY", "not-a-duration")
	cfg = LoadConfigFromEnv()
	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("JWTExpiry fallback = %v, want 24h", cfg.JWTExpiry)
	}
}
