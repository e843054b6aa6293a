// Package syscall implements the system-call gate: the SYSCALL/SYSRET MSR
// setup, the per-task register save/restore path, the SMAP-bracketed
// user-memory accessors, and the dispatcher that turns a syscall number and
// five arguments into a call against kernel/sched, kernel/signal, kernel/fs
// and kernel/mm/vmm.
package syscall

// Number identifies a system call using the Linux x86-64 numbering the
// kernel's ABI is compatible with.
type Number uintptr

const (
	SysRead       Number = 0
	SysWrite      Number = 1
	SysOpen       Number = 2
	SysClose      Number = 3
	SysLseek      Number = 8
	SysMmap       Number = 9
	SysMunmap     Number = 11
	SysBrk        Number = 12
	SysPipe       Number = 22
	SysSchedYield Number = 24
	SysDup        Number = 32
	SysDup2       Number = 33
	SysGetpid     Number = 39
	SysFork       Number = 57
	SysExecve     Number = 59
	SysExit       Number = 60
	SysWait4      Number = 61
	SysKill       Number = 62
	SysGetppid    Number = 110

	// Extended 200+ range. Most of these are accepted by Dispatch's
	// switch but implemented as ENOSYS stubs until kernel/fs grows a real
	// directory tree; they are listed so the syscall numbering space
	// matches the ABI even where the backend is still a stub.
	SysStat     Number = 200
	SysLstat    Number = 201
	SysFstat    Number = 202
	SysAccess   Number = 203
	SysChdir    Number = 204
	SysGetcwd   Number = 205
	SysGetuid   Number = 206
	SysGetgid   Number = 207
	SysSethost  Number = 208
	SysUname    Number = 209
	SysTime     Number = 210
	SysGtod     Number = 211
	SysFsync    Number = 212
	SysFtrunc   Number = 213
	SysFcntl    Number = 214
	SysIoctl    Number = 215
	SysSetpgid  Number = 216
	SysGetpgrp  Number = 217
	SysTcsetpgr Number = 218
	SysUnlink   Number = 219
	SysRename   Number = 220
	SysMkdir    Number = 221
	SysRmdir    Number = 222
	SysLink     Number = 223
	SysSymlink  Number = 224
	SysReadlink Number = 225
	SysChmod    Number = 226
	SysFchmod   Number = 227
	SysChown    Number = 228
	SysFchown   Number = 229
	SysGetdents Number = 230

	SysRtSigaction    Number = 240
	SysRtSigprocmask  Number = 241
	SysRtSigpending   Number = 242
	SysRtSigsuspend   Number = 243
	SysRtSigtimedwait Number = 244
	SysRtSigqueueinfo Number = 245
	SysSigaltstack    Number = 246
	SysAlarm          Number = 247
	SysSetitimer      Number = 248
	SysGetitimer      Number = 249
	SysTimerCreate    Number = 250
	SysTimerSettime   Number = 251
	SysTimerGettime   Number = 252
	SysTimerGetover   Number = 253
	SysTimerDelete    Number = 254
	SysPause          Number = 255

	// SysRtSigreturn is 256, matching the 9-byte "mov rax, imm32;
	// syscall" trampoline kernel/signal embeds in every signal frame.
	SysRtSigreturn Number = 256

	SysNanosleep    Number = 257
	SysClockGettime Number = 258
	SysClockGetres  Number = 259
)
