package mediawiki

import (
	"encoding/json"
	"time"
)

// APIError is the error envelope of the action API.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

type Debug struct {
	Error    *APIError `json:"error"`
	Servedby string    `json:"servedby"`
}

type RevisionMeta struct {
	RevID      int64     `json:"revid"`
	ParentID   int64     `json:"parentid"`
	TimeStamp  time.Time `json:"timestamp"`
	User       string    `json:"user"`
	UserHidden bool      `json:"userhidden"`
	Minor      bool      `json:"minor"`
}

type PageActions struct {
	Edit bool `json:"edit"`
}

type FlaggedInfo struct {
	StableRevID  int64      `json:"stable_revid"`
	Level        int        `json:"level"`
	PendingSince *time.Time `json:"pending_since"`
}

// UnmarshalJSON accepts the bare false some wikis send for unflagged pages.
func (f *FlaggedInfo) UnmarshalJSON(data []byte) error {
	if string(data) == "false" {
		return nil
	}
	type plain FlaggedInfo
	return json.Unmarshal(data, (*plain)(f))
}

type HistoryPage struct {
	PageID    int64           `json:"pageid"`
	NameSpace int             `json:"ns"`
	Title     string          `json:"title"`
	Missing   bool            `json:"missing"`
	Invalid   bool            `json:"invalid"`
	LastRevID int64           `json:"lastrevid"`
	Actions   *PageActions    `json:"actions"`
	Flagged   *FlaggedInfo    `json:"flagged"`
	Revisions []*RevisionMeta `json:"revisions"`
}

type HistoryQuery struct {
	Pages []*HistoryPage `json:"pages"`
}

type HistoryResponse struct {
	*Debug
	CurTimestamp string        `json:"curtimestamp"`
	Query        *HistoryQuery `json:"query"`
}

type TokensResponse struct {
	*Debug
	Query *struct {
		Tokens struct {
			CSRFToken  string `json:"csrftoken"`
			LoginToken string `json:"logintoken"`
		} `json:"tokens"`
	} `json:"query"`
}

type LoginResponse struct {
	*Debug
	Login *struct {
		Result string `json:"result"`
		Reason string `json:"reason"`
	} `json:"login"`
}

type EditResponse struct {
	*Debug
	Edit *struct {
		Result   string `json:"result"`
		NewRevID int64  `json:"newrevid"`
		NoChange bool   `json:"nochange"`
	} `json:"edit"`
}

type ReviewResponse struct {
	*Debug
	Review *struct {
		Result string `json:"result"`
	} `json:"review"`
}

// apiResponse lets the transport inspect the shared error envelope.
type apiResponse interface {
	apiError() *APIError
}

func (d *Debug) apiError() *APIError {
	if d == nil {
		return nil
	}
	return d.Error
}
