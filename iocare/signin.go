package iocare

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"
)

const (
	loginFormID          = "kc-form-login"
	passwordUpdateFormID = "kc-passwd-update-form"
)

// step is where one hop of the login chain ended: either a page with forms,
// or a redirect to the IoCare redirect url carrying the authorization code
type step struct {
	forms map[string]string // form id -> absolute action url
	code  string
}

func (c *Client) signIn(ctx context.Context) (*oauth2.Token, error) {
	if c.creds.Username == "" || c.creds.Password == "" {
		return nil, fmt.Errorf("%w: missing credentials", ErrSignIn)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	browser := &http.Client{
		Jar:           jar,
		Timeout:       c.http.Timeout,
		Transport:     c.http.Transport,
		CheckRedirect: c.stopAtRedirect,
	}

	q := url.Values{}
	q.Set("auth_type", "0")
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("scope", "login")
	q.Set("lang", "en_US")
	q.Set("redirect_url", c.cfg.RedirectURL)

	s, err := c.visit(ctx, browser, http.MethodGet, c.cfg.SignInURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: login page: %v", ErrSignIn, err)
	}
	action, ok := s.forms[loginFormID]
	if !ok {
		return nil, fmt.Errorf("%w: login page has no login form", ErrSignIn)
	}

	s, err = c.visit(ctx, browser, http.MethodPost, action, url.Values{
		"username":   {c.creds.Username},
		"password":   {c.creds.Password},
		"rememberMe": {"on"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: authenticate: %v", ErrSignIn, err)
	}

	if action, ok := s.forms[passwordUpdateFormID]; ok && s.code == "" {
		log.Info().Msg("coway account asks for a password change, skipping it")
		s, err = c.visit(ctx, browser, http.MethodPost, action, url.Values{"cmd": {"change_next_time"}})
		if err != nil {
			return nil, fmt.Errorf("%w: password change bypass: %v", ErrSignIn, err)
		}
	}

	if s.code == "" {
		if _, ok := s.forms[loginFormID]; ok {
			return nil, fmt.Errorf("%w: credentials rejected", ErrSignIn)
		}
		return nil, fmt.Errorf("%w: no authorization code in redirect", ErrSignIn)
	}

	tok, err := c.exchange(ctx, s.code)
	if err != nil {
		return nil, err
	}
	log.Info().Str("username", c.creds.Username).Time("expiry", tok.Expiry).Msg("signed in to coway")
	return tok, nil
}

// stopAtRedirect keeps the browser from leaving for the redirect url, whose query holds the code
func (c *Client) stopAtRedirect(req *http.Request, via []*http.Request) error {
	if strings.HasPrefix(req.URL.String(), c.cfg.RedirectURL) {
		return http.ErrUseLastResponse
	}
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	return nil
}

func (c *Client) visit(ctx context.Context, browser *http.Client, method, target string, form url.Values) (step, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return step{}, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := browser.Do(req)
	if err != nil {
		return step{}, err
	}
	defer resp.Body.Close()

	if loc := resp.Header.Get("Location"); resp.StatusCode >= 300 && resp.StatusCode < 400 && loc != "" {
		u, err := resp.Request.URL.Parse(loc)
		if err != nil {
			return step{}, err
		}
		return step{code: u.Query().Get("code")}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return step{}, &StatusError{Status: resp.StatusCode}
	}

	forms, err := parseForms(io.LimitReader(resp.Body, maxBody), resp.Request.URL)
	if err != nil {
		return step{}, err
	}
	return step{forms: forms}, nil
}

// parseForms maps each form id on the page to its action, resolved against base
func parseForms(r io.Reader, base *url.URL) (map[string]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	forms := make(map[string]string)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" {
			var id, action string
			for _, a := range n.Attr {
				switch a.Key {
				case "id":
					id = a.Val
				case "action":
					action = a.Val
				}
			}
			if id != "" {
				if u, err := base.Parse(action); err == nil {
					forms[id] = u.String()
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(doc)
	return forms, nil
}
