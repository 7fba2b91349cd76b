package log

// Config sizes the segments of a journal
type Config struct {
	Segment struct {
		// offset given to the first record of an empty journal
		InitialOffset uint64
		// a segment is rolled once its store reaches this many bytes
		MaxStoreBytes uint64
		// a segment is rolled once its index reaches this many bytes
		MaxIndexBytes uint64
	}
}

const (
	defaultMaxStoreBytes = 1 << 20
	defaultMaxIndexBytes = 1 << 16
)

func (c Config) withDefaults() Config {
	if c.Segment.MaxStoreBytes == 0 {
		c.Segment.MaxStoreBytes = defaultMaxStoreBytes
	}
	if c.Segment.MaxIndexBytes == 0 {
		c.Segment.MaxIndexBytes = defaultMaxIndexBytes
	}
	return c
}
