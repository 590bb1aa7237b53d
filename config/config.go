// Package config 提供引擎配置的加载（YAML/JSON）与规则管道的配置化构建。
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// EngineConfig 是推荐引擎的顶层配置。
type EngineConfig struct {
	Collaborative struct {
		KNeighbors int    `yaml:"k_neighbors" json:"k_neighbors"` // 默认 20
		Mode       string `yaml:"mode" json:"mode"`               // user / item / hybrid
	} `yaml:"collaborative" json:"collaborative"`

	Hybrid struct {
		Alpha           float64 `yaml:"alpha" json:"alpha"`                       // 默认 0.6
		CascadeDiscount float64 `yaml:"cascade_discount" json:"cascade_discount"` // 默认 0.8
	} `yaml:"hybrid" json:"hybrid"`

	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"` // 默认 3600
	} `yaml:"cache" json:"cache"`

	ABTest struct {
		DefaultSplitRatio float64 `yaml:"default_split_ratio" json:"default_split_ratio"` // 默认 0.5
	} `yaml:"abtest" json:"abtest"`

	Redis struct {
		Addr     string `yaml:"addr" json:"addr"`
		Password string `yaml:"password" json:"password"`
		DB       int    `yaml:"db" json:"db"`
	} `yaml:"redis" json:"redis"`

	Feast struct {
		Host    string `yaml:"host" json:"host"`
		Port    int    `yaml:"port" json:"port"`
		Project string `yaml:"project" json:"project"`
	} `yaml:"feast" json:"feast"`

	Rules []RuleConfig `yaml:"rules" json:"rules"`
}

// RuleConfig 是单条业务规则的配置。
type RuleConfig struct {
	Type   string         `yaml:"type" json:"type"` // filter.out_of_stock / boost.preferences / expr ...
	Config map[string]any `yaml:"config" json:"config"`
}

// Default 返回带默认值的配置。
func Default() *EngineConfig {
	cfg := &EngineConfig{}
	cfg.applyDefaults()
	return cfg
}

func (c *EngineConfig) applyDefaults() {
	if c.Collaborative.KNeighbors <= 0 {
		c.Collaborative.KNeighbors = 20
	}
	if c.Collaborative.Mode == "" {
		c.Collaborative.Mode = "hybrid"
	}
	if c.Hybrid.Alpha <= 0 || c.Hybrid.Alpha > 1 {
		c.Hybrid.Alpha = 0.6
	}
	if c.Hybrid.CascadeDiscount <= 0 || c.Hybrid.CascadeDiscount >= 1 {
		c.Hybrid.CascadeDiscount = 0.8
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 3600
	}
	if c.ABTest.DefaultSplitRatio <= 0 || c.ABTest.DefaultSplitRatio > 1 {
		c.ABTest.DefaultSplitRatio = 0.5
	}
	if c.Feast.Port == 0 {
		c.Feast.Port = 6565
	}
}

// LoadFromYAML 从 YAML 文件加载配置（缺省字段填默认值）。
func LoadFromYAML(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromJSON 从 JSON 文件加载配置。
func LoadFromJSON(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var cfg EngineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}
