package snmp3

import (
	"log"
	"os"
	"sync"
)

type Logger interface {
	Println(...interface{})
}

var logger Logger = log.New(os.Stderr, "snmp3: ", log.LstdFlags)
var logMu sync.Mutex

func SetLogger(l Logger) {
	if l == nil {
		l = log.New(os.Stderr, "snmp3: ", log.LstdFlags)
	}

	logMu.Lock()
	logger = l
	logMu.Unlock()
}

func logln(v ...interface{}) {
	logMu.Lock()
	l := logger
	logMu.Unlock()
	l.Println(v...)
}
