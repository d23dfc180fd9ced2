package capture

// RecordIterator walks records in sequence order. It is bounded by the
// record count at the moment it was created and holds its own copy of the
// rightmost path, so records committed or refreshed into view later do not
// disturb an iteration in progress. Iterators are one-shot and not safe for
// concurrent use, but iterating never blocks other readers or the writer.
type RecordIterator struct {
	cf    *CaptureFile
	path  *rightmostPath
	limit uint64
	next  uint64

	record []byte
	err    error
}

// Records returns an iterator positioned at startingRecordNumber (1 starts
// at the first record). Starting past the current record count yields an
// empty iteration, not an error.
func (cf *CaptureFile) Records(startingRecordNumber uint64) (*RecordIterator, error) {
	cf.Lock()
	defer cf.Unlock()

	if cf.file == nil {
		return nil, ErrNotOpen
	}
	if startingRecordNumber < 1 {
		return nil, ErrOutOfRange
	}

	return &RecordIterator{
		cf:    cf,
		path:  cf.master.path.clone(),
		limit: cf.count,
		next:  startingRecordNumber,
	}, nil
}

// Next advances to the next record. It returns false when the iteration is
// exhausted or an error occurred; check Err after the loop.
func (it *RecordIterator) Next() bool {
	if it.err != nil || it.next > it.limit {
		return false
	}

	it.cf.Lock()
	defer it.cf.Unlock()

	if it.cf.file == nil {
		it.err = ErrNotOpen
		return false
	}

	record, err := it.cf.lookup(it.path, it.limit, it.next)
	if err != nil {
		it.err = err
		return false
	}
	it.record = record
	it.next++
	return true
}

// Record returns the record read by the last successful Next.
func (it *RecordIterator) Record() []byte {
	return it.record
}

// Err returns the error that stopped the iteration, if any.
func (it *RecordIterator) Err() error {
	return it.err
}
