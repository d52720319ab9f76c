// Package main builds libbwt, the C ABI of the tracker. Compile with
// `-buildmode=c-shared` (or c-archive) to produce a library embeddable from
// C, and anything that can speak its ABI.
package main

/*
#include <stdlib.h>

#define BWT_OK  0
#define BWT_ERR -1

typedef void (*bwt_notify_fn)(const char* category, float progress,
                              unsigned int detail_n, const char* detail_s);
typedef void (*bwt_ready_fn)(unsigned long long handle);

static void call_notify(bwt_notify_fn fn, const char* category, float progress,
                        unsigned int detail_n, const char* detail_s) {
	fn(category, progress, detail_n, detail_s);
}

static void call_ready(bwt_ready_fn fn, unsigned long long handle) {
	fn(handle);
}
*/
import "C"

import (
	"unsafe"

	gobwt "github.com/bwt-dev/gobwt"
)

const (
	bwtOK  = C.int(0)
	bwtErr = C.int(-1)
)

// bwt_start boots a tracker session from a JSON config string.
//
// notify_cb receives the session's lifecycle notifications. With a NULL
// ready_cb the call blocks until the session is operational; otherwise it
// returns as soon as the config was accepted and ready_cb later receives
// the handle once the session is up. On success the session handle is
// written to handle_out and BWT_OK is returned.
//
// The strings passed to notify_cb are only valid for the duration of the
// callback invocation.
//
//export bwt_start
func bwt_start(jsonConfig *C.char, notifyFn C.bwt_notify_fn, readyFn C.bwt_ready_fn, handleOut *C.ulonglong) C.int {
	if jsonConfig == nil || notifyFn == nil || handleOut == nil {
		return bwtErr
	}

	notify := func(category string, progress float32, detailN uint32, detailS string) {
		cCategory := C.CString(category)
		cDetail := C.CString(detailS)
		C.call_notify(notifyFn, cCategory, C.float(progress), C.uint(detailN), cDetail)
		C.free(unsafe.Pointer(cCategory))
		C.free(unsafe.Pointer(cDetail))
	}
	var ready gobwt.ReadyFunc
	if readyFn != nil {
		ready = func(handle gobwt.Handle) {
			C.call_ready(readyFn, C.ulonglong(handle))
		}
	}

	handle, err := gobwt.Start(C.GoString(jsonConfig), notify, ready)
	if err != nil {
		return bwtErr
	}
	*handleOut = C.ulonglong(handle)
	return bwtOK
}

// bwt_shutdown stops the session behind a handle issued by bwt_start. It
// blocks until the session quiesced: once it returns, notify_cb will not be
// invoked again. Returns BWT_ERR for unknown or already shut down handles.
//
//export bwt_shutdown
func bwt_shutdown(handle C.ulonglong) C.int {
	if err := gobwt.Shutdown(gobwt.Handle(handle)); err != nil {
		return bwtErr
	}
	return bwtOK
}

func main() {}
