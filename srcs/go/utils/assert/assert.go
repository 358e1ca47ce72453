package assert

import (
	"fmt"
	"os"
	"runtime"
)

func fail(name string, err error) {
	_, fn, line, _ := runtime.Caller(2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed at %s:%d: %v\n", name, fn, line, err)
	} else {
		fmt.Fprintf(os.Stderr, "%s failed at %s:%d\n", name, fn, line)
	}
	os.Exit(1)
}

func OK(err error) {
	if err != nil {
		fail(`assertOK`, err)
	}
}

func True(ok bool) {
	if !ok {
		fail(`assertTrue`, nil)
	}
}
