package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"remaininggoods/internal"
)

// SiteOverride replaces the env-derived share settings of one site. Empty
// fields keep the env value.
type SiteOverride struct {
	ID       string `mapstructure:"id"`
	Host     string `mapstructure:"host"`
	Share    string `mapstructure:"share"`
	Path     string `mapstructure:"path"`
	Pattern  string `mapstructure:"pattern"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Domain   string `mapstructure:"domain"`
}

type sitesFile struct {
	Sites []SiteOverride `mapstructure:"sites"`
}

func loadSitesFile(path string) (map[string]SiteOverride, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var f sitesFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, err
	}

	out := make(map[string]SiteOverride, len(f.Sites))
	for i, site := range f.Sites {
		site.ID = strings.TrimSpace(site.ID)
		if site.ID == "" {
			return nil, fmt.Errorf("site #%d has no id", i+1)
		}
		out[site.ID] = site
	}
	return out, nil
}

// Targets expands SHOPS and the sites file into one RemoteTarget per site.
// SHOPS order comes first; sites known only from the file follow by id.
func (c Config) Targets() []internal.RemoteTarget {
	ids := append([]string(nil), c.Shops...)
	known := map[string]struct{}{}
	for _, id := range ids {
		known[id] = struct{}{}
	}
	var extra []string
	for id := range c.Sites {
		if _, ok := known[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	ids = append(ids, extra...)

	out := make([]internal.RemoteTarget, 0, len(ids))
	for _, id := range ids {
		t := internal.RemoteTarget{
			Site:     id,
			Host:     c.hostFor(id),
			Share:    c.SMBShare,
			Dir:      c.SMBPath,
			Pattern:  c.SMBFilePattern,
			User:     c.SMBUser,
			Password: c.SMBPassword,
			Domain:   c.SMBDomain,
		}
		if o, ok := c.Sites[id]; ok {
			t.Host = pick(o.Host, t.Host)
			t.Share = pick(o.Share, t.Share)
			t.Dir = pick(o.Path, t.Dir)
			t.Pattern = pick(o.Pattern, t.Pattern)
			t.User = pick(o.User, t.User)
			t.Password = pick(o.Password, t.Password)
			t.Domain = pick(o.Domain, t.Domain)
		}
		out = append(out, t)
	}
	return out
}

func (c Config) hostFor(site string) string {
	tpl := c.SMBHostTemplate
	if tpl == "" {
		return site
	}
	host := strings.ReplaceAll(tpl, "{shop}", site)
	return strings.ReplaceAll(host, "{}", site)
}

func pick(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
