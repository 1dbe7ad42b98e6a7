package browse

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StorageState is the serialized form of a captured browsing session, the
// same shape browser automation tools export: cookies plus per-origin
// localStorage. It travels base64-encoded so it can be stored as a single
// opaque secret.
type StorageState struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins,omitempty"`
}

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HttpOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

type Origin struct {
	Origin       string             `json:"origin"`
	LocalStorage []LocalStorageItem `json:"localStorage,omitempty"`
}

type LocalStorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func DecodeStorageState(b64 string) (*StorageState, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, err
	}
	var state StorageState
	err = json.Unmarshal(raw, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *StorageState) Encode() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// cookiesByDomain converts the snapshot into http cookies grouped under a
// canonical per-domain URL, the form a cookie jar accepts.
func (s *StorageState) cookiesByDomain() map[url.URL][]*http.Cookie {
	out := map[url.URL][]*http.Cookie{}
	for _, c := range s.Cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			continue
		}
		key := url.URL{Scheme: "https", Host: host}

		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		out[key] = append(out[key], cookie)
	}
	return out
}
