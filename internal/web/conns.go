// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

// Conns returns an [http.Handler] that lists the active connections of s.
// It takes over s.ConnState, so it must be called before s starts serving.
func Conns(s *http.Server) http.Handler {
	ch := &connsHandler{conns: make(map[string]*Conn)}
	s.ConnState = ch.connState
	return ch
}

// Conn is an active HTTP connection.
type Conn struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Since   time.Time `json:"since"`
	State   string    `json:"state"`
}

// ConnsResponse is the response of a [Conns] handler.
type ConnsResponse struct {
	Total int     `json:"total"`
	Idle  int     `json:"idle"`
	Conns []*Conn `json:"conns"`
}

type connsHandler struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

func (ch *connsHandler) connState(c net.Conn, state http.ConnState) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	addr := c.RemoteAddr().String()
	if state == http.StateClosed || state == http.StateHijacked {
		delete(ch.conns, addr)
		return
	}
	ac, ok := ch.conns[addr]
	if !ok {
		ac = &Conn{
			Network: c.RemoteAddr().Network(),
			Addr:    addr,
			Since:   time.Now(),
		}
		ch.conns[addr] = ac
	}
	ac.State = state.String()
}

func (ch *connsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch.mu.Lock()
	resp := &ConnsResponse{Conns: make([]*Conn, 0, len(ch.conns))}
	for _, c := range ch.conns {
		cc := *c
		resp.Conns = append(resp.Conns, &cc)
		if c.State == http.StateIdle.String() {
			resp.Idle++
		}
	}
	ch.mu.Unlock()

	resp.Total = len(resp.Conns)
	slices.SortFunc(resp.Conns, func(a, b *Conn) int { return strings.Compare(a.Addr, b.Addr) })
	RespondJSON(w, resp)
}
