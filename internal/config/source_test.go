package config

import (
	"strings"
	"testing"
)

func TestValueSourceValidate(t *testing.T) {
	tests := []struct {
		name    string
		vs      ValueSource
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid value source",
			vs: ValueSource{
				Value: "direct-value",
			},
			wantErr: false,
		},
		{
			name: "valid from reference",
			vs: ValueSource{
				From: &SourceReference{
					Env: "ENV_VAR",
				},
			},
			wantErr: false,
		},
		{
			name: "valid secret from reference",
			vs: ValueSource{
				From: &SourceReference{
					Secret: "api-key",
				},
			},
			wantErr: false,
		},
		{
			name:    "empty value source",
			vs:      ValueSource{},
			wantErr: true,
			errMsg:  "must provide either 'value' or 'from'",
		},
		{
			name: "both value and from set",
			vs: ValueSource{
				Value: "direct-value",
				From: &SourceReference{
					Env: "ENV_VAR",
				},
			},
			wantErr: true,
			errMsg:  "cannot provide both 'value' and 'from'",
		},
		{
			name: "invalid from reference",
			vs: ValueSource{
				From: &SourceReference{
					Env:    "ENV_VAR",
					Secret: "secret-key",
				},
			},
			wantErr: true,
			errMsg:  "invalid 'from' block",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.vs.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error but got none")
				} else if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, expected to contain %v", err, tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
			}
		})
	}
}

func TestSourceReferenceValidate(t *testing.T) {
	tests := []struct {
		name    string
		ref     SourceReference
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid env reference",
			ref: SourceReference{
				Env: "DATABASE_URL",
			},
			wantErr: false,
		},
		{
			name: "valid secret reference",
			ref: SourceReference{
				Secret: "api-key",
			},
			wantErr: false,
		},
		{
			name:    "empty reference",
			ref:     SourceReference{},
			wantErr: true,
			errMsg:  "a source reference (e.g., 'env' or 'secret') must be specified",
		},
		{
			name: "both env and secret set",
			ref: SourceReference{
				Env:    "DATABASE_URL",
				Secret: "api-key",
			},
			wantErr: true,
			errMsg:  "only one source reference ('env' or 'secret') can be specified at a time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ref.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error but got none")
				} else if tt.errMsg != "" && err.Error() != tt.errMsg {
					t.Errorf("Validate() error = %v, expected %v", err, tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
			}
		})
	}
}

func TestEnvVarValidate(t *testing.T) {
	tests := []struct {
		name    string
		envVar  EnvVar
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid env var with value",
			envVar: EnvVar{
				Name: "DATABASE_URL",
				ValueSource: ValueSource{
					Value: "postgres://localhost:5432/mydb",
				},
			},
			wantErr: false,
		},
		{
			name: "valid env var with from reference",
			envVar: EnvVar{
				Name: "API_KEY",
				ValueSource: ValueSource{
					From: &SourceReference{
						Env: "API_KEY_ENV",
					},
				},
			},
			wantErr: false,
		},
		{
			name: "empty env var name",
			envVar: EnvVar{
				Name: "",
				ValueSource: ValueSource{
					Value: "some-value",
				},
			},
			wantErr: true,
			errMsg:  "environment variable 'name' cannot be empty",
		},
		{
			name: "both value and from",
			envVar: EnvVar{
				Name: "INVALID_VAR",
				ValueSource: ValueSource{
					Value: "direct-value",
					From: &SourceReference{
						Env: "ENV_VAR",
					},
				},
			},
			wantErr: true,
			errMsg:  "cannot provide both 'value' and 'from'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.envVar.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error but got none")
				} else if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, expected to contain %v", err, tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
			}
		})
	}
}
