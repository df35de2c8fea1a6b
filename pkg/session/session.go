package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/porthorian/consoleauth/pkg/authz"
	oerrors "github.com/porthorian/consoleauth/pkg/errors"
)

type Status int

const (
	StatusUnauthenticated Status = iota
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// PermissionValue is the permission field of a login response. Servers send
// it either as a JSON number or as a decimal string.
type PermissionValue string

func (v *PermissionValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = PermissionValue(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("session: permissions must be a number or string: %w", err)
		}
		*v = PermissionValue(n.String())
		return nil
	}
}

func (v PermissionValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

// Mask parses v as a base-10 mask. Empty, negative, fractional and
// non-numeric values fail, as do values carrying bits outside
// authz.FullAccess.
func (v PermissionValue) Mask() (authz.Mask, error) {
	raw := strings.TrimSpace(string(v))
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, oerrors.Wrap(oerrors.CodeMalformedPermissionValue, fmt.Sprintf("session: permission value %q is not a non-negative integer", string(v)), err)
	}

	mask := authz.Mask(parsed)
	if !mask.Valid() {
		return 0, oerrors.New(oerrors.CodeMalformedPermissionValue, fmt.Sprintf("session: permission value %d has bits outside %d", parsed, authz.FullAccess))
	}
	return mask, nil
}

func PermissionValueFromMask(mask authz.Mask) PermissionValue {
	return PermissionValue(strconv.FormatUint(uint64(mask), 10))
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	Permissions  PermissionValue `json:"permissions"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
}
