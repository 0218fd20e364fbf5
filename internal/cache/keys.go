package cache

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Key helpers build the stable key schemes shared by every component.
// Credentials and raw parameters are hashed so they never appear in a
// key verbatim.

func PatronKey(username, password string) string {
	return "patron|" + hashPart(strings.TrimSpace(username)+":"+password)
}

func RequestKey(requestURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := strings.Builder{}
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(strings.Join(params[k], ","))
		b.WriteString("&")
	}
	return "request|" + requestURL + "|" + hashPart(b.String())
}

func TokenKey(serviceConfig map[string]string) string {
	keys := make([]string, 0, len(serviceConfig))
	for k := range serviceConfig {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := strings.Builder{}
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s;", k, serviceConfig[k])
	}
	return "token|" + hashPart(b.String())
}

func HoldShelfKey(location, itemID string) string {
	return "holdshelf|" + strings.TrimSpace(location) + "|" + strings.TrimSpace(itemID)
}

func hashPart(input string) string {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}
