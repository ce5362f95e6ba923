package controller

import (
	"errors"
	"fmt"
	"strings"

	"github.com/downfa11-org/go-kvs/pkg/compactor"
	"github.com/downfa11-org/go-kvs/pkg/store"
	"github.com/downfa11-org/go-kvs/util"
)

// Store is the part of *store.Store the shell drives.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Keys() ([]string, error)
	Stats() (store.Stats, error)
	Compact() (compactor.Result, error)
}

// CommandHandler executes line-oriented text commands against a store.
type CommandHandler struct {
	Store Store
}

func NewCommandHandler(s Store) *CommandHandler {
	return &CommandHandler{Store: s}
}

const helpText = `Available commands:
GET key=<key> - print the value of key
SET key=<key> value=<text> - store text under key (value runs to end of line)
RM key=<key> - remove key
KEYS - list all keys
STATS - show log and index sizes
COMPACT - reclaim stale log space now
HELP - show this help
EXIT - exit`

func (ch *CommandHandler) logCommandResult(cmd, response string) {
	status := "SUCCESS"
	if strings.HasPrefix(response, "ERROR:") {
		status = "FAILURE"
	}
	util.Debug("[%s] %s => %s", status, cmd, strings.ReplaceAll(response, "\n", " "))
}

// HandleCommand runs one command line and returns the text to print.
func (ch *CommandHandler) HandleCommand(rawCmd string) string {
	resp := ch.handle(strings.TrimSpace(rawCmd))
	ch.logCommandResult(rawCmd, resp)
	return resp
}

func (ch *CommandHandler) handle(cmd string) string {
	if cmd == "" {
		return "ERROR: empty command"
	}

	name, rest := cmd, ""
	if i := strings.IndexAny(cmd, " \t"); i >= 0 {
		name, rest = cmd[:i], cmd[i+1:]
	}

	switch strings.ToUpper(name) {
	case "HELP":
		return helpText

	case "GET":
		key := parseKeyValueArgs(rest)["key"]
		if key == "" {
			return "ERROR: missing key parameter. Expected: GET key=<key>"
		}
		value, ok, err := ch.Store.Get(key)
		if err != nil {
			return "ERROR: " + err.Error()
		}
		if !ok {
			return "Key not found"
		}
		return value

	case "SET":
		args := parseKeyValueArgs(rest)
		key := args["key"]
		value, hasValue := args["value"]
		if key == "" || !hasValue {
			return "ERROR: invalid SET syntax. Expected: SET key=<key> value=<text>"
		}
		if err := ch.Store.Set(key, value); err != nil {
			return "ERROR: " + err.Error()
		}
		return "OK"

	case "RM", "REMOVE":
		key := parseKeyValueArgs(rest)["key"]
		if key == "" {
			return "ERROR: missing key parameter. Expected: RM key=<key>"
		}
		if err := ch.Store.Remove(key); err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				return "Key not found"
			}
			return "ERROR: " + err.Error()
		}
		return "OK"

	case "KEYS":
		keys, err := ch.Store.Keys()
		if err != nil {
			return "ERROR: " + err.Error()
		}
		if len(keys) == 0 {
			return "(no keys)"
		}
		return strings.Join(keys, "\n")

	case "STATS":
		st, err := ch.Store.Stats()
		if err != nil {
			return "ERROR: " + err.Error()
		}
		return FormatStats(st)

	case "COMPACT":
		res, err := ch.Store.Compact()
		if err != nil {
			return "ERROR: " + err.Error()
		}
		return fmt.Sprintf("compacted into generation %d: copied %d records, removed %d segments, reclaimed %d bytes",
			res.Generation, res.Copied, res.Removed, res.ReclaimedBytes)

	default:
		return fmt.Sprintf("ERROR: unknown command %q. Type HELP for commands.", name)
	}
}

// FormatStats renders st one field per line.
func FormatStats(st store.Stats) string {
	return fmt.Sprintf("keys: %d\nsegments: %d\nactive segment: %d\nlog bytes: %d\nlive bytes: %d\nstale bytes: %d",
		st.Keys, st.Segments, st.Active, st.LogBytes, st.LiveBytes, st.StaleBytes)
}

// parseKeyValueArgs splits "a=1 b=2" into a map. A value= argument takes the
// rest of the line verbatim so it may contain spaces.
func parseKeyValueArgs(argsStr string) map[string]string {
	result := make(map[string]string)

	valueIdx := strings.Index(argsStr, "value=")
	if valueIdx != -1 {
		before := argsStr[:valueIdx]
		for _, part := range strings.Fields(before) {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) == 2 {
				result[kv[0]] = kv[1]
			}
		}
		result["value"] = argsStr[valueIdx+len("value="):]
		return result
	}

	for _, part := range strings.Fields(argsStr) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			result[kv[0]] = kv[1]
		}
	}
	return result
}
