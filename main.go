package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mqy/pawchat/auth"
	"github.com/mqy/pawchat/ledger"
	"github.com/mqy/pawchat/server"
	"github.com/mqy/pawchat/sim"
	"github.com/mqy/pawchat/store"
	"github.com/mqy/pawchat/ws"
)

var (
	flagAddr    = flag.String("addr", "127.0.0.1:8000", "server address, ip:port")
	flagPidFile = flag.String("pid-file", "pawchat.pid", "pid file")

	flagStore    = flag.String("store", "bolt", "conversation store: bolt, mysql or memory")
	flagBoltPath = flag.String("bolt-path", "pawchat.db", "bolt database file, --store=bolt")
	flagMysqlDsn = flag.String("mysql-dsn", "root:@tcp(127.0.0.1:3306)/pawchat?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci", "mysql server dsn, --store=mysql")

	flagStatusInterval  = flag.Duration("status-interval", sim.DefaultStatusInterval, "delivery status simulator tick")
	flagReadProbability = flag.Float64("read-probability", sim.DefaultReadProbability, "per tick probability that a delivered message is read, in [0, 1]")
	flagReplyMinDelay   = flag.Duration("reply-min-delay", sim.DefaultReplyMinDelay, "canned reply: min delay")
	flagReplyMaxDelay   = flag.Duration("reply-max-delay", sim.DefaultReplyMaxDelay, "canned reply: max delay")
	flagRepliesFile     = flag.String("replies-file", "", "yaml file of canned replies per partner domain, optional")

	flagCacheSize          = flag.Int("cache-size", ledger.DefaultCacheSize, "conversations kept in memory")
	flagMaxAttachmentBytes = flag.Int64("max-attachment-bytes", ws.DefaultMaxAttachmentBytes, "max attachment size in bytes")

	flagUserID   = flag.String("user-id", "", "local user id when a request carries none, optional")
	flagUserName = flag.String("user-name", "", "local user name, with --user-id")

	flagPprofDir       = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		// keeps the dir when profiles were written.
		_ = os.Remove(pprofDir)
	}()

	kv, err := openStore()
	if err != nil {
		return errorf("--store=%s: %v", *flagStore, err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			glog.Errorf("close store err: %v", err)
		}
	}()

	corpus := sim.DefaultCorpus()
	if *flagRepliesFile != "" {
		if corpus, err = sim.LoadCorpus(*flagRepliesFile); err != nil {
			return errorf("--replies-file: %v", err)
		}
	}

	glog.Info("pawchat server is starting")

	var identity auth.Identity = auth.ContextIdentity{}
	if *flagUserID != "" {
		identity = auth.ContextIdentity{Fallback: auth.Static{User: auth.User{ID: *flagUserID, Name: *flagUserName}}}
	}
	l, err := ledger.New(kv, identity, *flagCacheSize)
	if err != nil {
		return errorf("ledger: %v", err)
	}
	replies := sim.NewReplyGenerator(l, corpus, *flagReplyMinDelay, *flagReplyMaxDelay, 0)
	l.SetReplier(replies)

	hub := ws.NewHub(newAuthClient(), l, ws.Conf{MaxAttachmentBytes: *flagMaxAttachmentBytes})

	mux := http.NewServeMux()
	if !*flagDisableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	mux.Handle("/ws", hub)

	srv := server.NewStandalone(&server.Conf{
		Addr:    *flagAddr,
		Mux:     mux,
		Ledger:  l,
		Hub:     hub,
		Status:  sim.NewStatusSimulator(l, *flagStatusInterval, *flagReadProbability, 0),
		Replies: replies,
	})
	lis, err := srv.Listen()
	if err != nil {
		return errorf("%v", err)
	}

	stopNotifyChan := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Run(ctx, lis, stopNotifyChan)

	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	var stopping bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var prof *Profiler

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				dumpGoroutines(pprofDir)
			case syscall.SIGUSR2:
				if prof == nil {
					prof = StartProfiler(pprofDir)
				} else {
					prof.Stop()
					prof = nil
				}
			case syscall.SIGTERM, syscall.SIGINT:
				if stopping {
					glog.Infof("pawchat server is already in stop")
					continue
				}
				stopping = true
				glog.Infof("received signal `%s` stopping", sig.String())
				if prof != nil {
					prof.Stop()
					prof = nil
				}
				cancel()
			}
		case <-stopNotifyChan:
			signal.Stop(sigCh)
			glog.Info("pawchat server exited")
			return 0
		}
	}
}

func newAuthClient() auth.Client {
	// The hosting directory page sets the cookies.
	return &auth.CookieClient{}
}

func openStore() (store.IKVStore, error) {
	switch *flagStore {
	case "bolt":
		return store.NewBoltStore(*flagBoltPath)
	case "memory":
		glog.Warningf("--store=memory: conversations are lost on exit")
		return store.NewMemStore(), nil
	case "mysql":
		db, err := sql.Open("mysql", *flagMysqlDsn)
		if err != nil {
			return nil, fmt.Errorf("sql.Open error, dsn: %s, err: %v", *flagMysqlDsn, err)
		}
		db.SetConnMaxLifetime(time.Minute * 3)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(1)

		s := store.NewSQLStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store")
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}

	switch *flagStore {
	case "bolt":
		if *flagBoltPath == "" {
			return errorf("--bolt-path is required")
		}
	case "mysql":
		if *flagMysqlDsn == "" {
			return errorf("--mysql-dsn is required")
		}
	case "memory":
	default:
		return errorf("--store: expect bolt, mysql or memory, got `%s`", *flagStore)
	}

	if *flagStatusInterval <= 0 {
		return errorf("--status-interval must be positive")
	}
	if *flagReadProbability < 0 || *flagReadProbability > 1 {
		return errorf("--read-probability must be in range [0, 1]")
	}
	if *flagReplyMinDelay < 0 || *flagReplyMaxDelay < *flagReplyMinDelay {
		return errorf("--reply-min-delay and --reply-max-delay: expect 0 <= min <= max")
	}
	if *flagRepliesFile != "" {
		if _, err := os.Stat(*flagRepliesFile); err != nil {
			return errorf("--replies-file: %v", err)
		}
	}
	if *flagCacheSize <= 0 {
		return errorf("--cache-size must be positive")
	}
	if *flagMaxAttachmentBytes <= 0 {
		return errorf("--max-attachment-bytes must be positive")
	}
	if *flagUserName != "" && *flagUserID == "" {
		return errorf("--user-name requires --user-id")
	}

	return 0
}

func validateAddr(s string) error {
	ips, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	ip := net.ParseIP(ips)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", ips)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("`%s` is not loopback or private address", ips)
	}
	return nil
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		// Ok, see, if we have a stale lockfile here
		content, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(string(content))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			}
			glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	glog.Infof("pid file: write pid done")
	return nil
}
