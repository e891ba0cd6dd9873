package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// reference is a parsed secret://name?version=N&project=P value. sm:// is
// accepted as an alias.
type reference struct {
	secret  string
	version string
	project string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	ref := reference{
		secret:  strings.Trim(u.Host+u.Path, "/"),
		version: strings.TrimSpace(u.Query().Get("version")),
		project: strings.TrimSpace(u.Query().Get("project")),
	}
	if ref.secret == "" {
		return reference{}, fmt.Errorf("secrets: no secret name in %q", raw)
	}
	if ref.version == "" {
		ref.version = "latest"
	}
	return ref, nil
}

func (r reference) String() string { return "secret://" + r.secret }

func (r reference) cacheKey() string { return r.secret + "@" + r.version + "@" + r.project }

// resourceName is the Secret Manager version path, using project when the
// reference does not name one.
func (r reference) resourceName(project string) string {
	if r.project != "" {
		project = r.project
	}
	if project == "" {
		return ""
	}
	return "projects/" + project + "/secrets/" + r.secret + "/versions/" + r.version
}
