package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ngaut/log"

	"github.com/veradb/veradb/kv/config"
	"github.com/veradb/veradb/kv/session"
	"github.com/veradb/veradb/kv/storage"
	"github.com/veradb/veradb/kv/transaction/mvcc"
)

var (
	configPath = flag.String("config", "", "config file path")
	logLevel   = flag.String("loglevel", "", "log level override")
)

func main() {
	flag.Parse()
	conf := config.NewDefaultConfig()
	if *configPath != "" {
		var err error
		conf, err = config.FromFile(*configPath)
		if err != nil {
			log.Fatalf("load config %s: %v", *configPath, err)
		}
	}
	if *logLevel != "" {
		conf.LogLevel = *logLevel
	}
	log.SetLevelByString(conf.LogLevel)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	log.Infof("conf %+v", conf)

	store := storage.NewStorage()
	if err := store.Start(); err != nil {
		log.Fatal(err)
	}
	engine := mvcc.NewEngine(conf)
	sched := session.NewScheduler(conf.SchedulerWorkers)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	s := <-sig
	log.Infof("got signal %v, shutting down", s)
	sched.Stop()
	engine.Close()
	if err := store.Stop(); err != nil {
		log.Errorf("stop storage: %v", err)
	}
}
