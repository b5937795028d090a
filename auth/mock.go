package auth

import (
	"fmt"
	"net/http"
	"net/url"
)

// CookieClient trusts the `x-uid` and `x-uname` cookies set by the hosting
// directory page.
type CookieClient struct {
	Client
}

func (c *CookieClient) Auth(r *http.Request) (User, error) {
	var u User

	if c, err := r.Cookie("x-uid"); err == nil {
		u.ID = c.Value
	}
	if u.ID == "" {
		return User{}, fmt.Errorf("empty x-uid from cookie")
	}

	if c, err := r.Cookie("x-uname"); err == nil {
		name, err := url.QueryUnescape(c.Value)
		if err != nil {
			return User{}, fmt.Errorf("error unescape x-uname: %v", err)
		}
		u.Name = name
	}
	if u.Name == "" {
		u.Name = u.ID
	}
	return u, nil
}
