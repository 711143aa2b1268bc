package kv

// PageID identifies a slot within one of the two record files. Position 0 is
// reserved and never allocated; ids are assigned monotonically and never
// reused, even once the page they name has been merged away.
type PageID uint32

// headerSize is the width in bytes of the 2-integer header every record
// file begins with.
const headerSize = 8
