// Package mediawiki talks to a MediaWiki action API: it fetches revision
// windows, performs undo edits, leaves talk page notices and re-reviews
// pending changes.
package mediawiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"revertd/api/internal/revert"
)

const DefaultUserAgent = "revertd/0.1 (https://example.org/revertd)"

type Options struct {
	APIURL      string
	UserAgent   string
	BotUser     string
	BotPassword string
	// RatePerSecond bounds outgoing requests. Zero disables spacing.
	RatePerSecond int
	HTTPClient    *http.Client
	// NoticeTitle is the section heading of talk page notices; $PAGE is
	// replaced by the page title.
	NoticeTitle string
}

type Client struct {
	apiURL      string
	userAgent   string
	botUser     string
	botPassword string
	noticeTitle string
	httpClient  *http.Client

	rateMu  sync.Mutex
	timeBtn time.Duration
	lastReq time.Time

	loginMu  sync.Mutex
	loggedIn bool
}

func New(opts Options) (*Client, error) {
	if opts.APIURL == "" {
		return nil, errors.New("api url is required")
	}
	if _, err := url.Parse(opts.APIURL); err != nil {
		return nil, fmt.Errorf("parse api url %q: %w", opts.APIURL, err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient = &http.Client{Timeout: 30 * time.Second, Jar: jar}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	noticeTitle := opts.NoticeTitle
	if noticeTitle == "" {
		noticeTitle = "Your edit to [[$PAGE]]"
	}
	c := &Client{
		apiURL:      opts.APIURL,
		userAgent:   userAgent,
		botUser:     opts.BotUser,
		botPassword: opts.BotPassword,
		noticeTitle: noticeTitle,
		httpClient:  httpClient,
	}
	if opts.RatePerSecond > 0 {
		c.timeBtn = time.Second / time.Duration(opts.RatePerSecond)
	}
	return c, nil
}

// FetchHistory reads the newest limit revisions of page together with the
// caller's edit permission and the pending-changes state.
func (c *Client) FetchHistory(ctx context.Context, page string, limit int) (revert.History, error) {
	if limit <= 0 {
		limit = revert.DefaultMaxWindow
	}
	if err := c.ensureLogin(ctx); err != nil {
		return revert.History{}, err
	}
	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "revisions|info|flagged")
	params.Set("titles", page)
	params.Set("intestactions", "edit")
	params.Set("rvprop", "ids|timestamp|user|flags")
	params.Set("rvlimit", strconv.Itoa(limit))
	params.Set("curtimestamp", "1")

	resp := new(HistoryResponse)
	if err := c.call(ctx, http.MethodGet, params, resp); err != nil {
		return revert.History{}, fmt.Errorf("fetch history of %q: %w", page, err)
	}
	if resp.Query == nil || len(resp.Query.Pages) == 0 {
		return revert.History{}, fmt.Errorf("fetch history of %q: empty response: %w", page, revert.ErrNetwork)
	}
	item := resp.Query.Pages[0]
	if item.Missing || item.Invalid {
		return revert.History{}, fmt.Errorf("fetch history of %q: %w", page, revert.ErrPageNotFound)
	}

	hist := revert.History{
		Page:          item.Title,
		TopRevisionID: item.LastRevID,
		Editable:      item.Actions != nil && item.Actions.Edit,
		Revisions:     make([]revert.Revision, 0, len(item.Revisions)),
	}
	if item.Flagged != nil && item.Flagged.StableRevID > 0 {
		hist.Flagged = &revert.FlaggedState{
			StableRevisionID: item.Flagged.StableRevID,
			PendingSince:     item.Flagged.PendingSince,
		}
	}
	for _, rev := range item.Revisions {
		if rev == nil {
			continue
		}
		hist.Revisions = append(hist.Revisions, revert.Revision{
			ID:             rev.RevID,
			User:           rev.User,
			UserHidden:     rev.UserHidden,
			Timestamp:      rev.TimeStamp,
			FlaggedPending: hist.Flagged != nil && rev.RevID > hist.Flagged.StableRevisionID,
		})
	}
	return hist, nil
}

// ApplyRevert undoes every revision after req.TargetRevisionID up to
// req.BaseRevisionID in a single edit.
func (c *Client) ApplyRevert(ctx context.Context, req revert.EditRequest) (revert.EditResult, error) {
	token, err := c.csrfToken(ctx)
	if err != nil {
		return revert.EditResult{}, err
	}
	params := url.Values{}
	params.Set("action", "edit")
	params.Set("title", req.Page)
	params.Set("undo", strconv.FormatInt(req.BaseRevisionID, 10))
	params.Set("undoafter", strconv.FormatInt(req.TargetRevisionID, 10))
	params.Set("baserevid", strconv.FormatInt(req.BaseRevisionID, 10))
	params.Set("summary", req.Summary)
	params.Set("nocreate", "1")
	if len(req.Tags) > 0 {
		params.Set("tags", strings.Join(req.Tags, "|"))
	}
	if req.Watch != "" {
		params.Set("watchlist", req.Watch)
	}
	if req.Minor {
		params.Set("minor", "1")
	}
	params.Set("token", token)

	resp := new(EditResponse)
	if err := c.call(ctx, http.MethodPost, params, resp); err != nil {
		return revert.EditResult{}, fmt.Errorf("revert %q to %d: %w", req.Page, req.TargetRevisionID, err)
	}
	if resp.Edit == nil || resp.Edit.Result != "Success" {
		result := "missing"
		if resp.Edit != nil {
			result = resp.Edit.Result
		}
		rejected := &CodeError{Code: result, Info: "edit was not saved", kind: revert.ErrEditRejected}
		return revert.EditResult{}, fmt.Errorf("revert %q to %d: %w", req.Page, req.TargetRevisionID, rejected)
	}
	result := revert.EditResult{NewRevisionID: resp.Edit.NewRevID, NoChange: resp.Edit.NoChange}
	if result.NoChange {
		result.NewRevisionID = req.BaseRevisionID
	}
	return result, nil
}

// Notify appends a new section with notice to the contributor's talk page.
// Redacted contributors have no talk page and are skipped.
func (c *Client) Notify(ctx context.Context, contributor, page, notice string) error {
	if contributor == "" {
		return nil
	}
	token, err := c.csrfToken(ctx)
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("action", "edit")
	params.Set("title", "User talk:"+contributor)
	params.Set("section", "new")
	params.Set("sectiontitle", strings.ReplaceAll(c.noticeTitle, "$PAGE", page))
	params.Set("text", notice+" ~~~~")
	params.Set("summary", "Notice about [["+page+"]]")
	params.Set("token", token)

	resp := new(EditResponse)
	if err := c.call(ctx, http.MethodPost, params, resp); err != nil {
		return fmt.Errorf("notify %s: %w", contributor, err)
	}
	return nil
}

// SubmitReview marks revisionID of page as reviewed.
func (c *Client) SubmitReview(ctx context.Context, page string, revisionID int64, comment string) error {
	token, err := c.csrfToken(ctx)
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("action", "review")
	params.Set("revid", strconv.FormatInt(revisionID, 10))
	params.Set("comment", comment)
	params.Set("token", token)

	resp := new(ReviewResponse)
	if err := c.call(ctx, http.MethodPost, params, resp); err != nil {
		return fmt.Errorf("review revision %d of %q: %w", revisionID, page, err)
	}
	return nil
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return "", err
	}
	token, err := c.token(ctx, "csrf")
	if err != nil {
		return "", err
	}
	return token, nil
}

func (c *Client) token(ctx context.Context, kind string) (string, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("meta", "tokens")
	params.Set("type", kind)

	resp := new(TokensResponse)
	if err := c.call(ctx, http.MethodGet, params, resp); err != nil {
		return "", fmt.Errorf("fetch %s token: %w", kind, err)
	}
	if resp.Query == nil {
		return "", fmt.Errorf("fetch %s token: empty response: %w", kind, revert.ErrNetwork)
	}
	if kind == "login" {
		return resp.Query.Tokens.LoginToken, nil
	}
	return resp.Query.Tokens.CSRFToken, nil
}

// ensureLogin signs in with the bot password once per client. Without
// credentials requests are anonymous.
func (c *Client) ensureLogin(ctx context.Context) error {
	if c.botUser == "" {
		return nil
	}
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.loggedIn {
		return nil
	}

	loginToken, err := c.token(ctx, "login")
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("action", "login")
	params.Set("lgname", c.botUser)
	params.Set("lgpassword", c.botPassword)
	params.Set("lgtoken", loginToken)

	resp := new(LoginResponse)
	if err := c.call(ctx, http.MethodPost, params, resp); err != nil {
		return fmt.Errorf("login as %s: %w", c.botUser, err)
	}
	if resp.Login == nil || resp.Login.Result != "Success" {
		reason := "no result"
		if resp.Login != nil {
			reason = resp.Login.Result + " " + resp.Login.Reason
		}
		return fmt.Errorf("login as %s: %s: %w", c.botUser, strings.TrimSpace(reason), revert.ErrPermissionDenied)
	}
	c.loggedIn = true
	log.Printf("mediawiki: logged in as %s", c.botUser)
	return nil
}

// call performs one API request and decodes the JSON body into out.
// Transport failures wrap revert.ErrNetwork; API error codes are mapped
// by mapAPIError.
func (c *Client) call(ctx context.Context, method string, params url.Values, out apiResponse) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")

	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.apiURL, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		u, parseErr := url.Parse(c.apiURL)
		if parseErr != nil {
			return fmt.Errorf("parse api url: %w", parseErr)
		}
		query := u.Query()
		for key, values := range params {
			query[key] = values
		}
		u.RawQuery = query.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	if err := c.wait(ctx); err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, params.Get("action"), err, revert.ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d: %w", method, params.Get("action"), resp.StatusCode, revert.ErrNetwork)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %v: %w", err, revert.ErrNetwork)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %v: %w", err, revert.ErrNetwork)
	}
	if apiErr := out.apiError(); apiErr != nil {
		return mapAPIError(apiErr)
	}
	return nil
}

// wait keeps at least timeBtn between two consecutive requests.
func (c *Client) wait(ctx context.Context) error {
	if c.timeBtn <= 0 {
		return nil
	}
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	diff := time.Since(c.lastReq)
	if diff < c.timeBtn {
		timer := time.NewTimer(c.timeBtn - diff)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.lastReq = time.Now()
	return nil
}

func mapAPIError(apiErr *APIError) error {
	codeErr := &CodeError{Code: apiErr.Code, Info: apiErr.Info}
	switch apiErr.Code {
	case "editconflict", "undofailure", "cantundo":
		codeErr.kind = revert.ErrEditConflict
	case "protectedpage", "permissiondenied", "blocked", "autoblocked", "cascadeprotected", "writeapidenied", "badtoken":
		codeErr.kind = revert.ErrPermissionDenied
	case "missingtitle", "nosuchrevid", "invalidtitle":
		codeErr.kind = revert.ErrPageNotFound
	}
	return codeErr
}

// CodeError is an error reported by the action API. Known codes unwrap to
// the matching revert sentinel.
type CodeError struct {
	Code string
	Info string
	kind error
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Info)
}

func (e *CodeError) Unwrap() error {
	return e.kind
}
