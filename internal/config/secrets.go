package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Environment variable names for secrets. They are never read from the
// config file.
const (
	EnvGeminiKey         = "GEMINI_API_KEY"
	EnvRazorpayKeyID     = "RAZORPAY_KEY_ID"
	EnvRazorpayKeySecret = "RAZORPAY_KEY_SECRET"
	EnvJWTSecret         = "CODEREVIEW_JWT_SECRET"
	EnvDatabaseURL       = "CODEREVIEW_DATABASE_URL"
)

// Secrets holds credentials resolved from the environment. Empty values are
// allowed here; each action reports the key it is missing when it needs it.
type Secrets struct {
	GeminiAPIKey      string
	RazorpayKeyID     string
	RazorpayKeySecret string
	JWTSecret         string
	DatabaseURL       string
}

// LoadSecrets reads secrets through v, falling back to a fresh viper bound
// to the process environment when v is nil.
func LoadSecrets(v *viper.Viper) Secrets {
	if v == nil {
		v = viper.New()
	}
	for _, key := range []string{EnvGeminiKey, EnvRazorpayKeyID, EnvRazorpayKeySecret, EnvJWTSecret, EnvDatabaseURL} {
		_ = v.BindEnv(key)
	}
	get := func(key string) string { return strings.TrimSpace(v.GetString(key)) }
	return Secrets{
		GeminiAPIKey:      get(EnvGeminiKey),
		RazorpayKeyID:     get(EnvRazorpayKeyID),
		RazorpayKeySecret: get(EnvRazorpayKeySecret),
		JWTSecret:         get(EnvJWTSecret),
		DatabaseURL:       get(EnvDatabaseURL),
	}
}

// HasRazorpay reports whether both Razorpay keys are present.
func (s Secrets) HasRazorpay() bool {
	return s.RazorpayKeyID != "" && s.RazorpayKeySecret != ""
}
