package main

import (
	"bytes"
	"testing"
)

// cliOutput 收集一次 run 调用写出的 stdout/stderr。
type cliOutput struct {
	out *bytes.Buffer
	err *bytes.Buffer
}

// captureCLIOutput 在测试期间把 stdOut/stdErr 替换为内存缓冲，结束时自动恢复。
func captureCLIOutput(t *testing.T) cliOutput {
	t.Helper()

	captured := cliOutput{out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = captured.out, captured.err

	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return captured
}
