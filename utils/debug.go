package utils

import "fmt"

// Debug gates the periodic diagnostics below. Set from Config.Debug by
// whoever builds the model.
var Debug bool

func Debugf(format string, args ...any) {
	if !Debug {
		return
	}
	fmt.Printf("[debug] "+format+"\n", args...)
}
