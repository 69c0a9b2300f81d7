package port

// Locker 是跨实例互斥锁
type Locker interface {
	Lock() error
	Unlock() error
}
