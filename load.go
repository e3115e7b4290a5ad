// Copyright 2026 The Appvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package appvisor

import (
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to option names to form environment overrides,
// for example APPVISOR_THREADS_MAX.
const EnvPrefix = "APPVISOR"

// LoadConfig reads a YAML configuration file, applies environment
// overrides and defaults, and validates the result.  A .env file next to
// the configuration, if present, is loaded first.
func LoadConfig(path string) (*ServerConfig, error) {
	// Missing .env is normal outside of development.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.RegisterAlias("rackup", "entrypoint")

	bindDefaults(v, reflect.ValueOf(DefaultConfig()), "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{"file", err.Error()}
	}

	cfg := &ServerConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{"file", err.Error()}
	}
	// Relative directories are taken relative to the config file.
	if !filepath.IsAbs(cfg.Directory) {
		cfg.Directory = filepath.Join(filepath.Dir(path), cfg.Directory)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindDefaults walks the struct and registers each field's value as the
// viper default under its mapstructure key.  Registering every key also
// makes AutomaticEnv see it.
func bindDefaults(v *viper.Viper, val reflect.Value, prefix string) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct {
			bindDefaults(v, val.Field(i), key)
			continue
		}
		v.SetDefault(key, val.Field(i).Interface())
	}
}
