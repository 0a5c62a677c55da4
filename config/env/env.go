// Package env overlays environment variables onto already populated config
// values, so deployment specific settings can override what the TOML files
// chose. Parse failures accumulate on the loader rather than failing one at a
// time.
package env

import (
	"fmt"
	"os"
	"strconv"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/korthq/bx/config/secret"
)

type Loader struct {
	err error
}

func NewLoader() *Loader {
	return &Loader{}
}

// Err returns every parse failure seen so far, or nil. Check it once after
// the last load.
func (l *Loader) Err() error {
	return l.err
}

// String inspects the system env var given by env. If it is present it will
// set the contents of fld.
func (l *Loader) String(fld *string, env string) {
	val, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	*fld = val
}

// Secret inspects the system env var given by env. If it is present it will
// set the contents of fld.
func (l *Loader) Secret(fld *secret.String, env string) {
	val, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	*fld = secret.String(val)
}

// SecretFromFile loads in the content of the file named by the env var.
// A slight potential trap is that the default value provided would be
// the content of the file and not the file path.
// If the env var is not set or is set but is empty then the default
// value is left unaltered and the loader error added to.
func (l *Loader) SecretFromFile(fld *secret.String, env string) {
	fn, ok := os.LookupEnv(env)
	if !ok || fn == "" {
		return
	}
	content, err := os.ReadFile(fn) // #nosec G304 - we know we are reading secrets from files
	if err != nil {
		l.err = multierror.Append(l.err, fmt.Errorf("failed to read secret file: %w", err))
		return
	}
	*fld = secret.String(content)
}

// Int inspects the system env var given by env. If it is present
// it will parse the value as an int as per Atoi to set the contents of fld.
// If the parse fails the content of fld is left unaltered and the
// loader error added to.
func (l *Loader) Int(fld *int, env string) {
	val, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.err = multierror.Append(l.err, fmt.Errorf("env var: %q caused an error: %w", env, err))
		return
	}
	*fld = i
}

// Bool inspects the system env var given by env. If it is present
// it will use the truthy or falsy strings as per ParseBool to set
// the contents of fld.
// If the parse fails the content of fld is left unaltered and the
// loader error added to.
func (l *Loader) Bool(fld *bool, env string) {
	val, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		l.err = multierror.Append(l.err, fmt.Errorf("env var: %q caused an error: %w", env, err))
		return
	}
	*fld = b
}

// Duration inspects the system env var given by env. If it is present
// it will parse the value as per time.ParseDuration to set the contents
// of fld.
func (l *Loader) Duration(fld *time.Duration, env string) {
	val, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		l.err = multierror.Append(l.err, fmt.Errorf("env var: %q caused an error: %w", env, err))
		return
	}
	*fld = d
}
