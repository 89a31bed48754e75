package main

import (
	"testing"

	"github.com/jwaldner/atmscreen/internal/config"
)

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"oplab missing", config.Config{Provider: "oplab"}, true},
		{"oplab placeholder", config.Config{Provider: "oplab", Oplab: config.OplabConfig{Token: "YOUR_OPLAB_TOKEN"}}, true},
		{"oplab ok", config.Config{Provider: "oplab", Oplab: config.OplabConfig{Token: "abc123"}}, false},
		{"alpaca missing secret", config.Config{Provider: "alpaca", Alpaca: config.AlpacaConfig{APIKey: "k"}}, true},
		{"alpaca placeholder", config.Config{Provider: "ALPACA", Alpaca: config.AlpacaConfig{APIKey: "<key>", SecretKey: "s"}}, true},
		{"alpaca ok", config.Config{Provider: "alpaca", Alpaca: config.AlpacaConfig{APIKey: "k", SecretKey: "s"}}, false},
	}

	for _, tt := range tests {
		err := validateCredentials(&tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: got err=%v, wantErr=%v", tt.name, err, tt.wantErr)
		}
	}
}
