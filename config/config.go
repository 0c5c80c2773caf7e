package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/hifidl/redact"
)

type Config struct {
	Log        Log        `yaml:"log"`
	Proxy      Proxy      `yaml:"proxy"`
	Mirrors    []Mirror   `yaml:"mirrors"`
	API        API        `yaml:"api"`
	Downloader Downloader `yaml:"downloader"`
	Engine     Engine     `yaml:"engine"`
}

func (c *Config) ToDict() *zerolog.Event {
	mirrors := zerolog.Arr()
	for i := range c.Mirrors {
		mirrors.Dict(c.Mirrors[i].ToDict())
	}

	return zerolog.Dict().
		Dict("log", c.Log.ToDict()).
		Dict("proxy", c.Proxy.ToDict()).
		Array("mirrors", mirrors).
		Dict("api", c.API.ToDict()).
		Dict("downloader", c.Downloader.ToDict()).
		Dict("engine", c.Engine.ToDict())
}

func (c *Config) setDefaults() {
	c.Log.setDefaults()
	c.Proxy.setDefaults()

	if len(c.Mirrors) == 0 {
		c.Mirrors = defaultMirrors()
	}

	c.API.setDefaults()
	c.Downloader.setDefaults()
	c.Engine.setDefaults()
}

func (c *Config) validate() error {
	if err := c.Log.validate(); nil != err {
		return fmt.Errorf("log config validation failed: %v", err)
	}

	if err := c.Proxy.validate(); nil != err {
		return fmt.Errorf("proxy config validation failed: %v", err)
	}

	if err := c.API.validate(); nil != err {
		return fmt.Errorf("api config validation failed: %v", err)
	}

	if err := c.Downloader.validate(); nil != err {
		return fmt.Errorf("downloader config validation failed: %v", err)
	}

	if err := c.Engine.validate(); nil != err {
		return fmt.Errorf("engine config validation failed: %v", err)
	}

	return nil
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "auto"
	}
}

func (c *Log) validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error", "fatal", "panic"}, c.Level) {
		return fmt.Errorf(
			"level must be one of: debug, info, warn, error, fatal, panic, got: %s",
			c.Level,
		)
	}

	if !slices.Contains([]string{"json", "pretty", "auto"}, c.Format) {
		return fmt.Errorf("format must be 'json', 'pretty', or 'auto', got: %s", c.Format)
	}

	return nil
}

// Proxy is the CORS/anonymization proxy used for mirrors flagged with
// requires_proxy. Requests are rewritten to <url>?url=<encoded target>.
type Proxy struct {
	URL string `yaml:"url"`
}

func (c *Proxy) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("url", redact.URL(c.URL))
}

func (c *Proxy) setDefaults() {}

func (c *Proxy) validate() error {
	if c.URL == "" {
		return nil
	}

	u, err := url.Parse(c.URL)
	if nil != err {
		return fmt.Errorf("url is not a valid URL: %v", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got: %s", u.Scheme)
	}

	return nil
}

type Mirror struct {
	Name          string `yaml:"name"`
	BaseURL       string `yaml:"base_url"`
	Weight        int    `yaml:"weight"`
	RequiresProxy bool   `yaml:"requires_proxy"`
}

func (c *Mirror) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("name", c.Name).
		Str("base_url", c.BaseURL).
		Int("weight", c.Weight).
		Bool("requires_proxy", c.RequiresProxy)
}

func defaultMirrors() []Mirror {
	return []Mirror{
		{Name: "hifi", BaseURL: "https://hifi.401658.xyz", Weight: 20, RequiresProxy: false},
		{Name: "tidal", BaseURL: "https://tidal.401658.xyz", Weight: 20, RequiresProxy: false},
	}
}

type API struct {
	Timeouts          APITimeouts `yaml:"timeouts"`
	RequestsPerSecond float64     `yaml:"requests_per_second"`
	RequestsBurst     int         `yaml:"requests_burst"`
}

func (c *API) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("timeouts", c.Timeouts.ToDict()).
		Float64("requests_per_second", c.RequestsPerSecond).
		Int("requests_burst", c.RequestsBurst)
}

func (c *API) setDefaults() {
	c.Timeouts.setDefaults()

	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 8
	}

	if c.RequestsBurst == 0 {
		c.RequestsBurst = 16
	}
}

func (c *API) validate() error {
	if err := c.Timeouts.validate(); nil != err {
		return fmt.Errorf("timeouts config validation failed: %v", err)
	}

	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must be greater than 0")
	}

	if c.RequestsBurst < 0 {
		return errors.New("requests_burst must be greater than 0")
	}

	return nil
}

type APITimeouts struct {
	GetTrack        int `yaml:"get_track"`
	GetDashManifest int `yaml:"get_dash_manifest"`
	Search          int `yaml:"search"`
	GetAlbum        int `yaml:"get_album"`
	GetArtist       int `yaml:"get_artist"`
	GetPlaylist     int `yaml:"get_playlist"`
	GetLyrics       int `yaml:"get_lyrics"`
}

func (c *APITimeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("get_track", c.GetTrack).
		Int("get_dash_manifest", c.GetDashManifest).
		Int("search", c.Search).
		Int("get_album", c.GetAlbum).
		Int("get_artist", c.GetArtist).
		Int("get_playlist", c.GetPlaylist).
		Int("get_lyrics", c.GetLyrics)
}

func (c *APITimeouts) setDefaults() {
	if c.GetTrack == 0 {
		c.GetTrack = 15
	}

	if c.GetDashManifest == 0 {
		c.GetDashManifest = 15
	}

	if c.Search == 0 {
		c.Search = 15
	}

	if c.GetAlbum == 0 {
		c.GetAlbum = 15
	}

	if c.GetArtist == 0 {
		c.GetArtist = 15
	}

	if c.GetPlaylist == 0 {
		c.GetPlaylist = 15
	}

	if c.GetLyrics == 0 {
		c.GetLyrics = 15
	}
}

func (c *APITimeouts) validate() error {
	if c.GetTrack < 0 {
		return errors.New("get_track must be greater than 0")
	}

	if c.GetDashManifest < 0 {
		return errors.New("get_dash_manifest must be greater than 0")
	}

	if c.Search < 0 {
		return errors.New("search must be greater than 0")
	}

	if c.GetAlbum < 0 {
		return errors.New("get_album must be greater than 0")
	}

	if c.GetArtist < 0 {
		return errors.New("get_artist must be greater than 0")
	}

	if c.GetPlaylist < 0 {
		return errors.New("get_playlist must be greater than 0")
	}

	if c.GetLyrics < 0 {
		return errors.New("get_lyrics must be greater than 0")
	}

	return nil
}

type Downloader struct {
	OutputDir     string `yaml:"output_dir"`
	DownloadCover int    `yaml:"download_cover_timeout"`
	Concurrency   int    `yaml:"concurrency"`
}

func (c *Downloader) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("output_dir", c.OutputDir).
		Int("download_cover_timeout", c.DownloadCover).
		Int("concurrency", c.Concurrency)
}

func (c *Downloader) setDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "./downloads"
	}

	if c.DownloadCover == 0 {
		c.DownloadCover = 10
	}

	if c.Concurrency == 0 {
		c.Concurrency = 3
	}
}

func (c *Downloader) validate() error {
	if c.DownloadCover < 0 {
		return errors.New("download_cover_timeout must be greater than 0")
	}

	if c.Concurrency < 0 {
		return errors.New("concurrency must be greater than 0")
	}

	return nil
}

type Engine struct {
	CoreURL     string   `yaml:"core_url"`
	WasmURL     string   `yaml:"wasm_url"`
	BinaryPath  string   `yaml:"binary_path"`
	WorkDir     string   `yaml:"work_dir"`
	ExecTimeout Duration `yaml:"exec_timeout"`
}

func (c *Engine) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("core_url", c.CoreURL).
		Str("wasm_url", c.WasmURL).
		Str("binary_path", c.BinaryPath).
		Str("work_dir", c.WorkDir).
		Str("exec_timeout", c.ExecTimeout.String())
}

func (c *Engine) setDefaults() {
	if c.BinaryPath == "" {
		c.BinaryPath = "ffmpeg"
	}

	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}

	if c.ExecTimeout.Duration == 0 {
		c.ExecTimeout.Duration = 3 * time.Minute
	}
}

func (c *Engine) validate() error {
	if c.ExecTimeout.Duration < 0 {
		return errors.New("exec_timeout must be greater than 0")
	}

	return nil
}

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("failed to parse duration: %v", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("failed to parse duration: %v", err)
	}

	d.Duration = parsed

	return nil
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(lo.Ternary(len(filename) > 0, filename, "config.yaml"))
	if nil != err {
		if len(filename) == 0 && errors.Is(err, os.ErrNotExist) {
			var conf Config
			conf.setDefaults()

			if err := conf.validate(); nil != err {
				return nil, fmt.Errorf("configuration validation failed: %v", err)
			}

			return &conf, nil
		}

		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	var conf Config
	if err := yaml.Unmarshal(data, &conf); nil != err {
		return nil, fmt.Errorf("failed to parse config file %s: %v", filename, err)
	}

	if v, ok := os.LookupEnv("HIFIDL_PROXY_URL"); ok {
		conf.Proxy.URL = v
	}

	conf.setDefaults()

	if err := conf.validate(); nil != err {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return &conf, nil
}
