package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMakeVerifyToken(t *testing.T) {
	gen := tokenGenerator{secretKey: []byte("secret"), timeout: 3 * 24 * time.Hour}

	now := time.Now().UTC()
	acc := Account{
		ID:        "8b0e3b8a-5c7e-4a36-9f0e-1f2b8a6c9d11",
		Name:      "Amina",
		Email:     "amina@test.test",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: now,
	}
	_ = acc.SetPassword("pwd")

	validToken := gen.makeToken(acc)

	// generate an expired token
	dayLate := gen.timeout + (24 * time.Hour)
	NowFunc = func() time.Time { return time.Now().Add(-dayLate) }
	expiredToken := gen.makeToken(acc)
	NowFunc = time.Now // reset

	otherKey := tokenGenerator{secretKey: []byte("other"), timeout: gen.timeout}
	loggedIn := acc
	loggedIn.LastLogin = now.Add(time.Hour)

	tests := []struct {
		name    string
		gen     tokenGenerator
		acc     Account
		token   string
		wantErr error
	}{
		{name: "no token", gen: gen, acc: acc, wantErr: ErrInvalidToken},
		{name: "invalid parts len", gen: gen, acc: acc, token: "lmaooolol", wantErr: ErrInvalidToken},
		{name: "invalid base32", gen: gen, acc: acc, token: "hahaha-sigsig-sig", wantErr: ErrInvalidToken},
		{name: "invalid timestamp", gen: gen, acc: acc, token: "NRXWY-sigsig-sig", wantErr: ErrInvalidToken},
		{name: "invalid signature", gen: gen, acc: acc, token: "HE4TS-sigsig-sig", wantErr: ErrInvalidToken},
		{name: "other secret key", gen: otherKey, acc: acc, token: validToken, wantErr: ErrInvalidToken},
		{name: "logged in since", gen: gen, acc: loggedIn, token: validToken, wantErr: ErrInvalidToken},
		{name: "expired token", gen: gen, acc: acc, token: expiredToken, wantErr: ErrTokenExpired},
		{name: "valid token", gen: gen, acc: acc, token: validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.gen.verifyToken(tt.acc, tt.token))
		})
	}
}

func TestEncodeUID(t *testing.T) {
	acc := Account{ID: "8b0e3b8a-5c7e-4a36-9f0e-1f2b8a6c9d11"}
	id, err := decodeUID(EncodeUID(acc))
	assert.NoError(t, err)
	assert.Equal(t, acc.ID, id)

	_, err = decodeUID("not base64!")
	assert.Error(t, err)
}
