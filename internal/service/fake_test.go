package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/evolab/gactl/internal/service"
)

// fakeLauncher hands out fakeProcs which exit only when told to.
type fakeLauncher struct {
	mx         sync.Mutex
	err        error
	ignoreTerm bool
	ignoreKill bool
	procs      []*fakeProc
}

func (l *fakeLauncher) Launch(_ context.Context, _ service.Command, _ service.OutputFunc) (service.Process, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	p := &fakeProc{
		pid:        1000 + len(l.procs),
		ignoreTerm: l.ignoreTerm,
		ignoreKill: l.ignoreKill,
		done:       make(chan struct{}),
	}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) launched() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) last() *fakeProc {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.procs[len(l.procs)-1]
}

type fakeProc struct {
	pid        int
	ignoreTerm bool
	ignoreKill bool

	once   sync.Once
	done   chan struct{}
	status service.ExitStatus

	mx    sync.Mutex
	terms int
	kills int
}

func (p *fakeProc) Pid() int { return p.pid }

func (p *fakeProc) Terminate() error {
	p.mx.Lock()
	p.terms++
	p.mx.Unlock()
	if !p.ignoreTerm {
		p.exit(-1, errors.New("signal: terminated"))
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.mx.Lock()
	p.kills++
	p.mx.Unlock()
	if !p.ignoreKill {
		p.exit(-1, errors.New("signal: killed"))
	}
	return nil
}

func (p *fakeProc) Wait() service.ExitStatus {
	<-p.done
	return p.status
}

func (p *fakeProc) exit(code int, err error) {
	p.once.Do(func() {
		p.status = service.ExitStatus{Code: code, Stopped: time.Now().UTC(), Err: err}
		close(p.done)
	})
}

func (p *fakeProc) counts() (terms, kills int) {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.terms, p.kills
}
