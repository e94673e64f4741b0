package model

import (
	"time"

	"golang.org/x/oauth2"
)

// Token is a stored OAuth2 token for a calendar account.
type Token struct {
	Account      string `gorm:"primaryKey"`
	AccessToken  string `gorm:"type:text"`
	TokenType    string
	RefreshToken string `gorm:"type:text;not null"`
	Expiry       time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// OAuth2 converts the stored row into an oauth2 token.
func (t *Token) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// NewToken builds a storable row from an oauth2 token.
func NewToken(account string, tok *oauth2.Token) *Token {
	return &Token{
		Account:      account,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}
