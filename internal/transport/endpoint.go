package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPath = "/ws"
	RoleParam   = "type"

	RoleProvider = "provider"
)

// Endpoint is one resolved broker address.
type Endpoint struct {
	Name string
	Host string
	Port int
	Path string
}

func (e Endpoint) String() string {
	if e.Name != "" {
		return fmt.Sprintf("%s -> %s", e.Name, e.baseURL())
	}
	return e.baseURL()
}

func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("transport: endpoint host required")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("transport: endpoint port %d out of range", e.Port)
	}
	return nil
}

// URL builds ws://host:port/path?type=role. An empty role omits the query.
func URL(e Endpoint, role string) string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
		Path:   normalizePath(e.Path),
	}
	if role = strings.TrimSpace(role); role != "" {
		u.RawQuery = url.Values{RoleParam: []string{role}}.Encode()
	}
	return u.String()
}

// ParseEndpoint reads a ws:// URL back into an Endpoint. Query parameters
// are dropped; URL re-adds the role.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, fmt.Errorf("transport: parse endpoint %q: %w", raw, err)
	}
	if u.Scheme != "ws" {
		return Endpoint{}, fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
	port := 80
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Endpoint{}, fmt.Errorf("transport: parse port %q: %w", p, err)
		}
	}
	ep := Endpoint{Host: u.Hostname(), Port: port, Path: normalizePath(u.Path)}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

func (e Endpoint) baseURL() string {
	return URL(e, "")
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return DefaultPath
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
