// Package dbdump pipes a self-contained POSIX shell dump program over SSH
// (spec.md §4.4), scans its stdout for the driver's own marker lines, and
// classifies failures into a closed error taxonomy the pipeline and
// notifier can act on without parsing free-form text themselves.
package dbdump

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrorClass is the closed taxonomy of remote dump failures spec.md §4.4
// names explicitly.
type ErrorClass string

const (
	ErrNone             ErrorClass = ""
	ErrMySQLAuth        ErrorClass = "mysql_auth"
	ErrMySQLListFail    ErrorClass = "mysql_list_fail"
	ErrPostgresAuth     ErrorClass = "postgres_auth"
	ErrMongoDumpFail    ErrorClass = "mongo_dump_fail"
	ErrRedisBGSaveFail  ErrorClass = "redis_bgsave_fail"
	ErrMissingPassword  ErrorClass = "missing_password"
	ErrGenericEngine    ErrorClass = "engine_fail"
)

// EngineResult is one per-database/per-engine outcome line reported by the
// remote script.
type EngineResult struct {
	Engine  string
	Target  string // database name, or "all" for whole-instance dumps
	OK      bool
	Class   ErrorClass
	Detail  string
}

// DumpResult is the full outcome of one DB-dump run against a host.
type DumpResult struct {
	Results    []EngineResult
	RawOutput  string
	Completed  bool // true once the "DBDUMP DONE" marker was observed
}

// Empty reports whether no engine reported anything — spec.md §4.4: "Empty
// result (no engines) is not a failure; it surfaces as an informational
// message to the pipeline."
func (r DumpResult) Empty() bool {
	return len(r.Results) == 0
}

// Failures returns the subset of results that did not succeed.
func (r DumpResult) Failures() []EngineResult {
	var out []EngineResult
	for _, res := range r.Results {
		if !res.OK {
			out = append(out, res)
		}
	}
	return out
}

// HasCredentialFailure reports whether any result is a classified
// credential error — these "trigger an immediate typed notification" per
// spec.md §4.5's db-dump phase.
func (r DumpResult) HasCredentialFailure() bool {
	for _, res := range r.Results {
		switch res.Class {
		case ErrMySQLAuth, ErrPostgresAuth, ErrMissingPassword:
			return true
		}
	}
	return false
}

// Config carries the per-engine shell variables the prelude exports,
// populated from the roster entry and global config (spec.md §4.4, §6).
type Config struct {
	DBTypes        string // "auto" or comma list
	CredentialsDir string
	Retries        int

	MySQLPwFile string
	MySQLHost   string

	PGUser string
	PGHost string

	MongoHost   string
	MongoAuthDB string

	RedisHost string
	RedisPort int

	SQLitePaths []string
}

func (c Config) buildPrelude() string {
	retries := c.Retries
	if retries <= 0 {
		retries = 1
	}
	var b strings.Builder
	fmt.Fprintf(&b, "export DB_TYPES=%s\n", shQuote(defaultStr(c.DBTypes, "auto")))
	fmt.Fprintf(&b, "export DB_DUMP_RETRIES=%d\n", retries)
	fmt.Fprintf(&b, "export MYSQL_PW_FILE=%s\n", shQuote(c.MySQLPwFile))
	fmt.Fprintf(&b, "export MYSQL_HOST=%s\n", shQuote(defaultStr(c.MySQLHost, "127.0.0.1")))
	fmt.Fprintf(&b, "export PG_USER=%s\n", shQuote(defaultStr(c.PGUser, "postgres")))
	fmt.Fprintf(&b, "export PG_HOST=%s\n", shQuote(defaultStr(c.PGHost, "127.0.0.1")))
	fmt.Fprintf(&b, "export MONGO_HOST=%s\n", shQuote(defaultStr(c.MongoHost, "127.0.0.1")))
	fmt.Fprintf(&b, "export MONGO_AUTH_DB=%s\n", shQuote(defaultStr(c.MongoAuthDB, "admin")))
	fmt.Fprintf(&b, "export REDIS_HOST=%s\n", shQuote(defaultStr(c.RedisHost, "127.0.0.1")))
	fmt.Fprintf(&b, "export REDIS_PORT=%d\n", defaultInt(c.RedisPort, 6379))
	fmt.Fprintf(&b, "export SQLITE_PATHS=%s\n", shQuote(strings.Join(c.SQLitePaths, ",")))
	return b.String()
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Driver runs the dump program against one remote host over SSH.
type Driver struct {
	Hostname   string
	SSHPort    int
	SSHKeyPath string
}

// New returns a Driver targeting hostname.
func New(hostname string, sshPort int, sshKeyPath string) *Driver {
	return &Driver{Hostname: hostname, SSHPort: sshPort, SSHKeyPath: sshKeyPath}
}

// Run pipes the prelude and dump script over `ssh host bash -s`, captures
// combined output, and classifies it. A non-zero ssh exit that produced no
// DBDUMP markers at all is reported as an error (the connection itself
// failed); a non-zero exit that did produce markers is not itself an
// error — failures are reported per-engine through Results.
func (d *Driver) Run(ctx context.Context, cfg Config) (*DumpResult, error) {
	script := cfg.buildPrelude() + dumpScript

	args := []string{"-p", strconv.Itoa(sshPortOrDefault(d.SSHPort))}
	if d.SSHKeyPath != "" {
		args = append(args, "-i", d.SSHKeyPath)
	}
	args = append(args,
		"-o", "ConnectTimeout=10",
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		d.Hostname, "bash -s")

	cmd := exec.CommandContext(ctx, "ssh", args...)
	cmd.Stdin = strings.NewReader(script)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	result := Classify(out.String())

	if runErr != nil && result.Empty() {
		return result, fmt.Errorf("dbdump: ssh session to %s failed: %w", d.Hostname, runErr)
	}
	return result, nil
}

func sshPortOrDefault(p int) int {
	if p <= 0 {
		return 22
	}
	return p
}

// Classify scans raw dump-script output line by line for "DBDUMP ..."
// marker lines and builds a DumpResult. Lines that aren't markers are
// ignored (they're the script's own diagnostic noise, already folded into
// marker detail fields where relevant).
func Classify(raw string) *DumpResult {
	result := &DumpResult{RawOutput: raw}
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "DBDUMP ") {
			continue
		}
		fields := strings.SplitN(strings.TrimPrefix(line, "DBDUMP "), " ", 3)
		if len(fields) == 0 {
			continue
		}

		tag := fields[0]
		if tag == "DONE" {
			result.Completed = true
			continue
		}

		engine := ""
		target := ""
		detail := ""
		if len(fields) > 1 {
			engine = fields[1]
		}
		if len(fields) > 2 {
			rest := strings.SplitN(fields[2], " ", 2)
			target = rest[0]
			if len(rest) > 1 {
				detail = rest[1]
			}
		}

		res := EngineResult{Engine: engine, Target: target, Detail: detail}

		switch tag {
		case "OK":
			res.OK = true
			res.Class = ErrNone
		case "MISSING_PASSWORD":
			res.Engine = engine
			res.Target = "-"
			res.Class = ErrMissingPassword
		case "MYSQL_LIST_FAIL":
			res.Engine = "mysql"
			res.Target = "-"
			res.Detail = strings.Join(fields[1:], " ")
			res.Class = ErrMySQLListFail
		case "MYSQL_AUTH_FAIL":
			res.Target = engine
			res.Engine = "mysql"
			res.Class = ErrMySQLAuth
		case "POSTGRES_AUTH_FAIL":
			res.Target = engine
			res.Engine = "postgres"
			res.Class = ErrPostgresAuth
		case "MONGO_DUMP_FAIL":
			res.Engine = "mongo"
			res.Target = "all"
			res.Detail = strings.Join(fields[1:], " ")
			res.Class = ErrMongoDumpFail
		case "REDIS_BGSAVE_FAIL":
			res.Engine = "redis"
			res.Target = "all"
			res.Detail = strings.Join(fields[1:], " ")
			res.Class = ErrRedisBGSaveFail
		case "FAIL":
			res.Class = ErrGenericEngine
		default:
			continue
		}

		result.Results = append(result.Results, res)
	}

	return result
}
