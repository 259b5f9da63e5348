package httputil

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type Config struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	TLS               TLSConfig     `mapstructure:"tls"`
}

// Server is an http.Server whose Listen honors the TLS section of Config.
type Server struct {
	*http.Server
	cfg *Config
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("addr"), ":8080")
	v.SetDefault(p("read_header_timeout"), "10s")
	v.SetDefault(p("tls.enabled"), false)
	v.SetDefault(p("tls.cert_file"), "")
	v.SetDefault(p("tls.key_file"), "")
}

func NewServer(cfg *Config, handler http.Handler) *Server {
	return &Server{
		Server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		cfg: cfg,
	}
}

// Listen serves until Shutdown. A shutdown is not reported as an error.
func (s *Server) Listen() error {
	cfg := s.cfg
	var err error
	if !cfg.TLS.Enabled {
		err = s.ListenAndServe()
	} else {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return errors.New("TLS is enabled but cert_file or key_file is not set")
		}
		err = s.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
