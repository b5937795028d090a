package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mqy/pawchat/ledger"
	"github.com/mqy/pawchat/sim"
	"github.com/mqy/pawchat/ws"
)

const DefaultFlushInterval = time.Minute

// Conf wires the widget host.
type Conf struct {
	Addr string
	Mux  *http.ServeMux

	Ledger  *ledger.Ledger
	Hub     *ws.Hub
	Status  *sim.StatusSimulator
	Replies *sim.ReplyGenerator

	// FlushInterval is the period of retrying failed partition writes.
	FlushInterval time.Duration
}

// Standalone is the single-process widget host: the http server, the
// widget hub and the simulators.
type Standalone struct {
	conf       *Conf
	httpServer *http.Server
}

func NewStandalone(conf *Conf) *Standalone {
	if conf.FlushInterval <= 0 {
		conf.FlushInterval = DefaultFlushInterval
	}
	// plain HTTP/1.1 requests, websocket upgrades included, pass through.
	handler := h2c.NewHandler(conf.Mux, &http2.Server{})
	return &Standalone{
		conf:       conf,
		httpServer: &http.Server{Handler: handler},
	}
}

// Listen binds the configured address.
func (s *Standalone) Listen() (net.Listener, error) {
	lis, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s error: %v", s.conf.Addr, err)
	}
	return lis, nil
}

// Run serves lis until ctx is done, then stops everything and notifies
// stopNotifyCh.
func (s *Standalone) Run(ctx context.Context, lis net.Listener, stopNotifyCh chan<- struct{}) {
	glog.Infof("standalone server is starting")

	ctx, cancel := context.WithCancel(ctx)
	serveErrC := make(chan error, 1)
	go func() {
		glog.Infof("http server is listening %v", lis.Addr())
		if err := s.httpServer.Serve(lis); errors.Is(err, http.ErrServerClosed) {
			glog.Infof("http server closed")
		} else if err != nil {
			glog.Errorf("error serve http mux server: %v", err)
			serveErrC <- err
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.conf.Hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.conf.Status.Run(ctx)
	}()

	ticker := time.NewTicker(s.conf.FlushInterval)

	defer func() {
		ticker.Stop()
		s.httpServer.Shutdown(context.Background())
		glog.Infof("standalone server: http server shutdown done")

		cancel()
		wg.Wait()
		glog.Infof("standalone server: hub and simulator stopped")

		s.conf.Replies.Stop()
		if n := s.conf.Ledger.Flush(context.Background()); n > 0 {
			glog.Errorf("standalone server: %d conversations not written back", n)
		}
		glog.Infof("standalone server: stopped")
		stopNotifyCh <- struct{}{}
	}()

	for {
		select {
		case <-ctx.Done():
			glog.Infof("standalone server is stopping")
			return
		case err := <-serveErrC:
			glog.Errorf("standalone server is stopping on serve error: %v", err)
			return
		case <-ticker.C:
			if n := s.conf.Ledger.Flush(ctx); n > 0 {
				glog.Errorf("standalone server: %d conversations still not written back", n)
			}
		}
	}
}
