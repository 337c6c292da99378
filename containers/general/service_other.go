//go:build !windows

package main

import "errors"

func serviceMode(thisExe string, action string, args []string) error {
	return errors.New("service mode is only supported on windows")
}
