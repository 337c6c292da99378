//go:build windows

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/debug"
	"golang.org/x/sys/windows/svc/mgr"
)

type serviceInstance struct {
	args []string
}

func serviceMode(thisExe string, action string, args []string) error {
	if action == "-debug" {
		return debug.Run("syslog-generator-debug", &serviceInstance{args: args})
	}
	components := strings.SplitN(action, ":", 2)
	if len(components) < 2 || components[1] == "" {
		return fmt.Errorf("usage: [-install:svcName | -remove:svcName | -run:svcName | -debug]")
	}
	action = components[0]
	svcName := components[1]

	isInService, err := svc.IsWindowsService()
	if err != nil {
		return err
	}
	if isInService {
		return svc.Run(svcName, &serviceInstance{args: args})
	}
	switch action {
	case "-install":
		if _, err := parseArgs(args); err != nil {
			return fmt.Errorf("invalid service arguments: %v", err)
		}
		if thisExe, err = filepath.Abs(thisExe); err != nil {
			return err
		}
		return installService(thisExe, svcName, args)
	case "-remove":
		return removeService(svcName)
	default:
		return fmt.Errorf("unknown action: %s", action)
	}
}

func installService(thisExe string, svcName string, args []string) error {
	m, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer m.Disconnect()
	s, err := m.OpenService(svcName)
	if err == nil {
		s.Close()
		return fmt.Errorf("service %s already exists", svcName)
	}
	args = append([]string{fmt.Sprintf("-run:%s", svcName)}, args...)
	s, err = m.CreateService(svcName, thisExe, mgr.Config{
		StartType:    mgr.StartAutomatic,
		ErrorControl: mgr.ErrorNormal,
		Description:  "Syslog Generator",
		DisplayName:  fmt.Sprintf("Syslog Generator - %s", svcName),
	}, args...)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Start(args...); err != nil {
		return err
	}
	log("Service %s installed.", svcName)
	return nil
}

func removeService(svcName string) error {
	m, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer m.Disconnect()
	s, err := m.OpenService(svcName)
	if err != nil {
		return fmt.Errorf("service %s is not installed", svcName)
	}
	defer s.Close()
	if status, err := s.Control(svc.Stop); err != nil {
		logError("Control.Stop(): %v / %v", err, status)
	}
	if err := s.Delete(); err != nil {
		return err
	}
	log("Service %s uninstalled.", svcName)
	return nil
}

func (m *serviceInstance) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (ssec bool, errno uint32) {
	acceptedControls := svc.AcceptStop | svc.AcceptShutdown
	changes <- svc.Status{State: svc.StartPending}

	conf, err := parseArgs(m.args)
	if err != nil {
		saveErrorOnDisk(logError("parseArgs(): %v", err))
		return false, 1
	}

	// Running as a Service we are not guaranteed that the network
	// stack will be up and running yet, give it a few moments.
	if net.ParseIP(conf.Host) == nil {
		for retries := 0; retries < 5; retries++ {
			if _, err := net.LookupIP(conf.Host); err == nil {
				break
			}
			time.Sleep(2 * time.Second)
		}
	}

	rn, err := runGenerator(conf)
	if err != nil {
		saveErrorOnDisk(logError("runGenerator(): %v", err))
		return false, 1
	}

	changes <- svc.Status{State: svc.Running, Accepts: acceptedControls}

	for {
		select {
		case c := <-r:
			switch c.Cmd {
			case svc.Stop, svc.Shutdown:
				changes <- svc.Status{State: svc.StopPending}
				if err := rn.Close(); err != nil {
					logError("stopping generator: %v", err)
				}
				changes <- svc.Status{State: svc.Stopped}
				return false, 0
			case svc.Interrogate:
				changes <- c.CurrentStatus
			default:
				logError("unexpected control request: #%d", c)
			}
		case <-rn.generator.Done():
			log("count reached")
			changes <- svc.Status{State: svc.StopPending}
			if err := rn.Close(); err != nil {
				logError("stopping generator: %v", err)
			}
			changes <- svc.Status{State: svc.Stopped}
			return false, 0
		}
	}
}

func saveErrorOnDisk(err string) {
	f, ferr := os.Create("syslog_generator.log")
	if ferr != nil {
		return
	}
	f.Write([]byte(err))
	f.Close()
}
