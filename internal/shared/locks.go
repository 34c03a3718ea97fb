package shared

// DeliverySyncLockKey is the redis key guarding the carrier sync sweep.
const DeliverySyncLockKey = "delivery:sync:lock"
