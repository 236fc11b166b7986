package redisstorage

// CompareAndSetScriptHash is the SHA the storage passes to EVALSHA.
var CompareAndSetScriptHash = compareAndSetScript.Hash()
