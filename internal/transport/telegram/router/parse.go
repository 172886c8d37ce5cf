package router

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"contentbot/internal/content"
)

var ridSeq atomic.Uint64

// newReqID is short and log-friendly: base36 timestamp, sequence and two
// random chars.
func newReqID() string {
	n := ridSeq.Add(1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + randSuffix(2)
}

func randSuffix(n int) string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alpha[rand.IntN(len(alpha))])
	}
	return b.String()
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
// Examples:
//
//	/remind 10m "stand up" --max=2
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// parseFlags splits raw args into positionals and flags.
//
// Supported: --k=v and --flag (bool). Anything else is positional, so
// negative numbers and "-" survive as text.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for _, a := range args {
		if !strings.HasPrefix(a, "--") || len(a) <= 2 {
			pos = append(pos, a)
			continue
		}
		key := strings.TrimPrefix(a, "--")
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			flags[strings.ToLower(key[:eq])] = key[eq+1:]
			continue
		}
		bools[strings.ToLower(key)] = true
	}
	return pos, flags, bools
}

// when is a parsed schedule expression taken from the head of the args.
type when struct {
	Discipline content.Discipline
	Config     content.Params
	Template   string
	Used       int // number of args consumed
}

// parseWhen understands:
//
//	10m | 2h30m        one time, after the delay
//	18:30              one time, next occurrence of the wall-clock time
//	daily 18:30        cron, every day
//	every 15m          interval
//	<template>         a named preset (see /help)
func parseWhen(args []string, now time.Time, loc *time.Location, isTemplate func(string) bool) (when, error) {
	if len(args) == 0 {
		return when{}, fmt.Errorf("missing time")
	}
	head := strings.ToLower(args[0])
	switch head {
	case "every":
		if len(args) < 2 {
			return when{}, fmt.Errorf("every: missing interval")
		}
		d, err := time.ParseDuration(args[1])
		if err != nil || d <= 0 {
			return when{}, fmt.Errorf("every: invalid interval %q", args[1])
		}
		return when{Discipline: content.Interval, Config: content.Params{"every": d.String()}, Used: 2}, nil
	case "daily":
		if len(args) < 2 {
			return when{}, fmt.Errorf("daily: missing HH:MM")
		}
		h, m, err := parseClock(args[1])
		if err != nil {
			return when{}, err
		}
		return when{Discipline: content.Cron, Config: content.Params{"hour": h, "minute": m}, Used: 2}, nil
	}

	if d, err := time.ParseDuration(head); err == nil {
		if d <= 0 {
			return when{}, fmt.Errorf("delay must be positive")
		}
		return when{Discipline: content.OneTime, Config: content.Params{"datetime": now.Add(d)}, Used: 1}, nil
	}
	if strings.Contains(head, ":") {
		h, m, err := parseClock(head)
		if err != nil {
			return when{}, err
		}
		if loc == nil {
			loc = time.Local
		}
		local := now.In(loc)
		at := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, loc)
		if !at.After(local) {
			at = at.AddDate(0, 0, 1)
		}
		return when{Discipline: content.OneTime, Config: content.Params{"datetime": at}, Used: 1}, nil
	}
	if isTemplate != nil && isTemplate(head) {
		return when{Template: head, Used: 1}, nil
	}
	return when{}, fmt.Errorf("unrecognized time %q", args[0])
}

func parseClock(s string) (int, int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return h, m, nil
}
