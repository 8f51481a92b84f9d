package safe

import (
	"ChatRelay/logger"
	"ChatRelay/tools/errs"
)

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[SafeGo] panic recovered: %+v", errs.ErrPanic(r))
			}
		}()
		f()
	}()
}

// SafeGoNamed 带名称的版本，便于定位是哪个后台任务崩了
func SafeGoNamed(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[SafeGo] %s panic recovered: %+v", name, errs.ErrPanic(r))
			}
		}()
		f()
	}()
}
