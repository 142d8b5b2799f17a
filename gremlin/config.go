package gremlin

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/davebshow/gremlingo/gremlin/graphson"
	"github.com/davebshow/gremlingo/internal/util"
	"gopkg.in/yaml.v3"
)

// Config holds the recognized Cluster configuration keys (spec.md §6),
// mirroring aiogremlin's Cluster.DEFAULT_CONFIG and its three loaders
// (config_from_yaml/json/module).
type Config struct {
	Scheme string
	Hosts  []string
	Port   int

	SSLCertFile string
	SSLKeyFile  string
	SSLPassword string

	Username string
	Password string

	ResponseTimeout time.Duration

	MaxConns         int
	MinConns         int
	MaxTimesAcquired int
	MaxInflight      int

	MessageSerializer MessageSerializer
	Provider          Provider

	Aliases map[string]string
}

// DefaultConfig returns the driver defaults, a direct translation of
// aiogremlin's Cluster.DEFAULT_CONFIG into Go types.
func DefaultConfig() *Config {
	return &Config{
		Scheme:            "ws",
		Hosts:             []string{"localhost"},
		Port:              8182,
		MaxConns:          4,
		MinConns:          1,
		MaxTimesAcquired:  16,
		MaxInflight:       64,
		MessageSerializer: graphson.NewV2(),
		Provider:          TinkerGraph,
		Aliases:           map[string]string{},
	}
}

// FromYAML loads config.yml/yaml onto a copy of DefaultConfig (spec.md §6,
// aiogremlin's config_from_yaml).
func FromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("read %s: %v", path, err)}
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("parse yaml %s: %v", path, err)}
	}
	return DefaultConfig().FromMap(raw)
}

// FromJSON loads a .json config file (aiogremlin's config_from_json).
func FromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("read %s: %v", path, err)}
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("parse json %s: %v", path, err)}
	}
	return DefaultConfig().FromMap(raw)
}

// FromMap merges raw into a copy of the receiver, matching keys
// case-insensitively (spec.md §6), mirroring aiogremlin's
// config_from_module, which does the same case-folded introspection over a
// Python module's globals.
func (c *Config) FromMap(raw map[string]any) (*Config, error) {
	merged := *c
	merged.Hosts = append([]string(nil), c.Hosts...)
	merged.Aliases = make(map[string]string, len(c.Aliases))
	for k, v := range c.Aliases {
		merged.Aliases[k] = v
	}

	for key, val := range raw {
		switch strings.ToLower(key) {
		case "scheme":
			s, err := asString(key, val)
			if err != nil {
				return nil, err
			}
			merged.Scheme = s
		case "hosts":
			hosts, err := asStringSlice(val)
			if err != nil {
				return nil, &ConfigError{Msg: fmt.Sprintf("hosts: %v", err)}
			}
			merged.Hosts = hosts
		case "port":
			n, err := asInt(key, val)
			if err != nil {
				return nil, err
			}
			merged.Port = n
		case "ssl_certfile":
			s, err := asString(key, val)
			if err != nil {
				return nil, err
			}
			merged.SSLCertFile = s
		case "ssl_keyfile":
			s, err := asString(key, val)
			if err != nil {
				return nil, err
			}
			merged.SSLKeyFile = s
		case "ssl_password":
			s, err := asString(key, val)
			if err != nil {
				return nil, err
			}
			merged.SSLPassword = s
		case "username":
			s, err := asString(key, val)
			if err != nil {
				return nil, err
			}
			merged.Username = s
		case "password":
			s, err := asString(key, val)
			if err != nil {
				return nil, err
			}
			merged.Password = s
		case "response_timeout":
			d, err := asDuration(key, val)
			if err != nil {
				return nil, err
			}
			merged.ResponseTimeout = d
		case "max_conns", "max_connections":
			n, err := asInt(key, val)
			if err != nil {
				return nil, err
			}
			merged.MaxConns = n
		case "min_conns", "min_connections":
			n, err := asInt(key, val)
			if err != nil {
				return nil, err
			}
			merged.MinConns = n
		case "max_times_acquired":
			n, err := asInt(key, val)
			if err != nil {
				return nil, err
			}
			merged.MaxTimesAcquired = n
		case "max_inflight":
			n, err := asInt(key, val)
			if err != nil {
				return nil, err
			}
			merged.MaxInflight = n
		case "message_serializer":
			s, err := asString(key, val)
			if err != nil {
				return nil, err
			}
			ser, err := serializerByName(s)
			if err != nil {
				return nil, err
			}
			merged.MessageSerializer = ser
		case "provider":
			s, err := asString(key, val)
			if err != nil {
				return nil, err
			}
			merged.Provider = Provider(s)
		case "aliases":
			aliases, ok := val.(map[string]any)
			if !ok {
				return nil, &ConfigError{Msg: "aliases must be a string-keyed map"}
			}
			for k, v := range aliases {
				s, ok := v.(string)
				if !ok {
					return nil, &ConfigError{Msg: fmt.Sprintf("aliases.%s must be a string", k)}
				}
				merged.Aliases[k] = s
			}
		default:
			// Unrecognized keys are tolerated, matching aiogremlin's
			// DEFAULT_CONFIG.update(config) merge.
		}
	}
	return &merged, nil
}

// serializerByName resolves the recognized message_serializer names to a
// concrete MessageSerializer, the Go analog of aiogremlin's my_import dotted
// path resolution against a fixed, known surface rather than dynamic import.
func serializerByName(name string) (MessageSerializer, error) {
	switch name {
	case "", "graphson-v2", "GraphSONMessageSerializer":
		return graphson.NewV2(), nil
	case "graphson-v1", "json":
		return graphson.NewV1(), nil
	default:
		return nil, &ConfigError{Msg: fmt.Sprintf("unknown message_serializer %q", name)}
	}
}

// TLSConfig builds a *tls.Config from SSLCertFile/SSLKeyFile, or nil if
// neither is set and every configured host is loopback (spec.md §6's
// insecure-dev-default tolerance, bounded by util.IsLoopback).
func (c *Config) TLSConfig() (*tls.Config, error) {
	if c.SSLCertFile == "" && c.SSLKeyFile == "" {
		for _, h := range c.Hosts {
			if !util.IsLoopback(h) {
				return nil, &ConfigError{Msg: fmt.Sprintf("host %q is not loopback and no ssl_certfile/ssl_keyfile is configured", h)}
			}
		}
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.SSLCertFile, c.SSLKeyFile)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("load tls keypair: %v", err)}
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func asString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", &ConfigError{Msg: fmt.Sprintf("%s must be a string, got %T", key, v)}
	}
	return s, nil
}

func asInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, &ConfigError{Msg: fmt.Sprintf("%s must be an integer, got %q", key, n)}
		}
		return parsed, nil
	default:
		return 0, &ConfigError{Msg: fmt.Sprintf("%s must be an integer, got %T", key, v)}
	}
}

func asDuration(key string, v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, &ConfigError{Msg: fmt.Sprintf("%s: %v", key, err)}
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Millisecond, nil
	case float64:
		return time.Duration(d) * time.Millisecond, nil
	default:
		return 0, &ConfigError{Msg: fmt.Sprintf("%s must be a duration, got %T", key, v)}
	}
}

func asStringSlice(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, len(s))
		for i, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is not a string", i)
			}
			out[i] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("must be a list of strings, got %T", v)
	}
}
