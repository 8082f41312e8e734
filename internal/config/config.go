package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/John-Robertt/avmerge/internal/infra/logging"
	"github.com/John-Robertt/avmerge/internal/ratelimit"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 avmc.json。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	// FileName 是配置文件名（位置见 LoadEffective）。
	FileName = "avmc.json"
	// EnvPrefix 是环境变量前缀：AVMC_CONCURRENCY、AVMC_PROXY_URL、AVMC_TRANSLATE_API_KEY ...
	EnvPrefix = "AVMC"

	// DefaultConcurrency 是并发的内置默认值（当配置未指定时）。
	DefaultConcurrency = 4
	maxConcurrency     = 32
)

// DefaultSources 是未配置 sources 时启用的站点（按顺序）。
var DefaultSources = []string{"javbus", "javdb"}

// KnownSources 是可以出现在 sources / rate_limits 里的名字。
// "cache" 表示 <path>/cache/records 下已落盘的聚合结果。
var KnownSources = []string{"cache", "javbus", "javdb"}

// CLIArgs 只包含 CLI 暴露的入口（path/sources/apply），并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 config.apply=true。
type CLIArgs struct {
	Path string

	Sources    []string
	SourcesSet bool

	Apply    bool
	ApplySet bool
}

// FileConfig 对应 avmc.json 的解析结构（同时承载环境变量覆盖后的值）。
type FileConfig struct {
	Path         string                      `mapstructure:"path"`
	Apply        bool                        `mapstructure:"apply"`
	Concurrency  int                         `mapstructure:"concurrency"`
	Proxy        ProxyConfig                 `mapstructure:"proxy"`
	ImageProxy   bool                        `mapstructure:"image_proxy"`
	ExcludeDirs  []string                    `mapstructure:"exclude_dirs"`
	JavDBBaseURL string                      `mapstructure:"javdb_base_url"`
	Sources      []string                    `mapstructure:"sources"`
	RateLimits   map[string]ratelimit.Config `mapstructure:"rate_limits"`
	Translate    TranslateConfig             `mapstructure:"translate"`
	Log          LogConfig                   `mapstructure:"log"`
}

type ProxyConfig struct {
	URL string `mapstructure:"url"`
}

// TranslateConfig 为空 URL 时表示不翻译。
type TranslateConfig struct {
	URL    string           `mapstructure:"url"`
	APIKey string           `mapstructure:"api_key"`
	Source string           `mapstructure:"source"`
	Target string           `mapstructure:"target"`
	Rate   ratelimit.Config `mapstructure:"rate"`
}

func (t TranslateConfig) Enabled() bool { return strings.TrimSpace(t.URL) != "" }

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Path string
	// ConfigFile 是实际读取到的配置文件；不存在时为空。
	ConfigFile string

	Apply   bool
	Sources []string

	Concurrency int
	ProxyURL    string
	ImageProxy  bool
	ExcludeDirs []string

	// JavDBBaseURL 允许在 javdb.com 不可达/被阻断时切换到可用镜像域名（可选）。
	// 该字段属于高级能力，仅通过 avmc.json / 环境变量配置，不暴露 CLI 参数。
	JavDBBaseURL string

	// RateLimits 只包含显式配置过的 source；其余 source 使用 RateLimit 的默认值。
	RateLimits map[string]ratelimit.Config
	Translate  TranslateConfig
	Log        LogConfig
}

// RateLimit 返回 source 的限流配置（未配置时为 ratelimit.DefaultConfig）。
func (c EffectiveConfig) RateLimit(source string) ratelimit.Config {
	if rl, ok := c.RateLimits[source]; ok {
		return rl
	}
	return ratelimit.DefaultConfig()
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 按约定发现并读取配置文件，叠加环境变量，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/avmc.json（可选）
// 2) CLI 未提供 path：必须读取 <cwd>/avmc.json（必选），且 path 必须来自文件或 AVMC_PATH
//
// 覆盖优先级（固定）：CLI > 环境变量 > 配置文件 > 默认值。
// CLI 只暴露 path / sources / apply，其他字段仅由环境变量与配置文件控制。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.Path) != "" {
		// CLI 给了 path：配置文件可选，位置固定在 <path>/avmc.json。
		absPath := absCleanFrom(cwdAbs, cli.Path)
		cfgPath := filepath.Join(absPath, FileName)

		fc, exists, err := readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			cfgPath = ""
		}
		return merge(absPath, cli, fc, cfgPath)
	}

	// CLI 没给 path：必须读取 <cwd>/avmc.json。
	cfgPath := filepath.Join(cwdAbs, FileName)
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if strings.TrimSpace(fc.Path) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	absPath := absCleanFrom(cwdAbs, fc.Path)
	return merge(absPath, cli, fc, cfgPath)
}

func merge(absPath string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(format string, args ...any) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf(format, args...)}
	}

	// sources：CLI > env/config > 默认
	sources := splitList(fc.Sources)
	if cli.SourcesSet {
		sources = splitList(cli.Sources)
	}
	if len(sources) == 0 {
		sources = append([]string(nil), DefaultSources...)
	}
	for _, s := range sources {
		if !known(s) {
			return invalid("未知 source：%q（可选：%s）", s, strings.Join(KnownSources, ", "))
		}
	}

	apply := fc.Apply
	if cli.ApplySet {
		apply = cli.Apply
	}

	concurrency := fc.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 约定范围 [1, 32]；超出截断。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}

	proxyURL := strings.TrimSpace(fc.Proxy.URL)
	if proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			return invalid("proxy.url 无效：%w", err)
		}
	}
	if fc.ImageProxy && proxyURL == "" {
		return invalid("image_proxy=true 但 proxy.url 为空")
	}

	javdbBaseURL := strings.TrimSpace(fc.JavDBBaseURL)
	if javdbBaseURL != "" {
		if err := httpURL(javdbBaseURL); err != nil {
			return invalid("javdb_base_url %v", err)
		}
	}

	rateLimits := make(map[string]ratelimit.Config, len(fc.RateLimits))
	for name, rl := range fc.RateLimits {
		name = strings.ToLower(strings.TrimSpace(name))
		if !known(name) {
			return invalid("rate_limits 中的未知 source：%q", name)
		}
		if rl.Capacity < 0 || rl.Refill < 0 || rl.Interval < 0 {
			return invalid("rate_limits.%s 不能为负数", name)
		}
		rateLimits[name] = withDefaults(rl)
	}

	tr := fc.Translate
	tr.URL = strings.TrimSpace(tr.URL)
	if tr.Enabled() {
		if err := httpURL(tr.URL); err != nil {
			return invalid("translate.url %v", err)
		}
		if strings.TrimSpace(tr.Target) == "" {
			return invalid("translate.url 已配置但 translate.target 为空")
		}
		tr.Rate = withDefaults(tr.Rate)
	}

	lg := fc.Log
	if !logging.ValidLevel(lg.Level) {
		return invalid("log.level 无效：%q", lg.Level)
	}
	switch strings.ToLower(strings.TrimSpace(lg.Format)) {
	case "", "console", "json":
	default:
		return invalid("log.format 只能是 console 或 json：%q", lg.Format)
	}
	if f := strings.TrimSpace(lg.File); f != "" {
		lg.File = absCleanFrom(absPath, f)
	}

	return EffectiveConfig{
		Path:         absPath,
		ConfigFile:   cfgPath,
		Apply:        apply,
		Sources:      sources,
		Concurrency:  concurrency,
		ProxyURL:     proxyURL,
		ImageProxy:   fc.ImageProxy,
		ExcludeDirs:  append([]string(nil), fc.ExcludeDirs...),
		JavDBBaseURL: javdbBaseURL,
		RateLimits:   rateLimits,
		Translate:    tr,
		Log:          lg,
	}, nil
}

// withDefaults 只补齐未填写（0）的字段。
func withDefaults(c ratelimit.Config) ratelimit.Config {
	d := ratelimit.DefaultConfig()
	if c.Capacity == 0 {
		c.Capacity = d.Capacity
	}
	if c.Refill == 0 {
		c.Refill = d.Refill
	}
	if c.Interval == 0 {
		c.Interval = d.Interval
	}
	return c
}

func httpURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("无效：%q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("必须是 http/https：%q", raw)
	}
	return nil
}

func known(name string) bool {
	i := sort.SearchStrings(KnownSources, name)
	return i < len(KnownSources) && KnownSources[i] == name
}

// splitList 统一 sources 的写法：JSON 数组、"a,b"、"a b" 都接受；小写、去重、保序。
func splitList(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, item := range in {
		for _, s := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// envKeys 是允许被 AVMC_* 覆盖的键（viper 的 AutomaticEnv 只对已知键生效，因此显式绑定）。
var envKeys = []string{
	"path", "apply", "concurrency", "proxy.url", "image_proxy", "exclude_dirs",
	"javdb_base_url", "sources",
	"translate.url", "translate.api_key", "translate.source", "translate.target",
	"log.level", "log.format", "log.file",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	return v
}

// readFileConfig 读取并解析 JSON 配置文件，再叠加环境变量。
// 返回值 exists 表示该文件是否存在（不存在不算错误，此时只有环境变量与默认值）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	v := newViper()

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		exists = true
		if err := v.ReadConfig(bytes.NewReader(b)); err != nil {
			return FileConfig{}, true, err
		}
	case os.IsNotExist(err):
	default:
		return FileConfig{}, false, err
	}

	if err := v.Unmarshal(&fc); err != nil {
		return FileConfig{}, exists, err
	}
	return fc, exists, nil
}
