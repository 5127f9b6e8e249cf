// configgen writes starter config files for the relay daemon and the
// CLI. Built-in defaults can be overlaid with a profile file:
//
//	outputDir: ../configs
//	targets:
//	  relay:
//	    overrides:
//	      upstream:
//	        baseURL: https://runner.internal.example
//	      auth:
//	        secret: changeme
//	  cli:
//	    overrides:
//	      baseURL: https://runner.internal.example
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

type Profile struct {
	OutputDir string                   `yaml:"outputDir"`
	Targets   map[string]TargetProfile `yaml:"targets"`
}

type TargetProfile struct {
	Output    string                 `yaml:"output"`
	Overrides map[string]interface{} `yaml:"overrides"`
}

func main() {
	profilePath := flag.String("profile", "", "Path to profile with overrides (optional)")
	outputDir := flag.String("output-dir", "configs", "Output directory")
	baseURL := flag.String("base-url", "https://runner.example.dev", "Execution service base URL")
	force := flag.Bool("force", false, "Overwrite existing files")
	flag.Parse()

	profile := &Profile{}
	if *profilePath != "" {
		loaded, err := loadProfile(*profilePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load profile failed: %v\n", err)
			os.Exit(1)
		}
		profile = loaded
	}

	dir := *outputDir
	if profile.OutputDir != "" {
		dir = profile.OutputDir
		if *profilePath != "" && !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(*profilePath), dir)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output directory failed: %v\n", err)
		os.Exit(1)
	}

	targets := map[string]map[string]interface{}{
		"relay": relayDefaults(*baseURL),
		"cli":   cliDefaults(*baseURL),
	}

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		config := normalizeValue(targets[name])

		target := profile.Targets[name]
		if len(target.Overrides) > 0 {
			config = mergeMap(config, normalizeValue(target.Overrides))
		}

		output := target.Output
		if output == "" {
			output = name + ".yaml"
		}
		path := output
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, output)
		}

		if !*force {
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("skipped %s (exists, use -force to overwrite)\n", path)
				continue
			}
		}
		if err := writeYAML(path, config); err != nil {
			fmt.Fprintf(os.Stderr, "write config for %q failed: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", path)
	}
}

func relayDefaults(baseURL string) map[string]interface{} {
	return map[string]interface{}{
		"server": map[string]interface{}{
			"addr":         "0.0.0.0:8086",
			"readTimeout":  "5s",
			"writeTimeout": "30s",
			"idleTimeout":  "60s",
		},
		"logger": map[string]interface{}{
			"level":      "info",
			"format":     "json",
			"outputPath": "stderr",
		},
		"upstream": map[string]interface{}{
			"baseURL": baseURL,
			"timeout": "10s",
		},
		"auth": map[string]interface{}{
			"secret": "",
			"issuer": "runbox",
		},
		"redis": map[string]interface{}{
			"addr": "",
		},
		"database": map[string]interface{}{
			"dsn": "",
		},
		"cors": map[string]interface{}{
			"allowedOrigins": []interface{}{},
		},
		"limits": map[string]interface{}{
			"maxConcurrent": 8,
			"admissionWait": "2s",
		},
	}
}

func cliDefaults(baseURL string) map[string]interface{} {
	return map[string]interface{}{
		"baseURL":  baseURL,
		"language": "python",
		"timeout":  "10s",
		"logger": map[string]interface{}{
			"level":  "warn",
			"format": "console",
		},
	}
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	return &profile, nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write yaml failed: %w", err)
	}
	return nil
}

func normalizeValue(value interface{}) map[string]interface{} {
	normalized, ok := normalizeAny(value).(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return normalized
}

func normalizeAny(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeAny(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprintf("%v", k)
			}
			out[key] = normalizeAny(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeAny(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap overlays override onto base, descending into nested maps.
// Scalars and lists in override replace the base value wholesale.
func mergeMap(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base))
	for k, v := range base {
		merged[k] = v
	}

	for key, overrideValue := range override {
		baseValue, exists := merged[key]
		if !exists {
			merged[key] = overrideValue
			continue
		}

		baseChild, baseIsMap := baseValue.(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			merged[key] = mergeMap(baseChild, overrideChild)
			continue
		}
		merged[key] = overrideValue
	}
	return merged
}
