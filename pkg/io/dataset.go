package io

import (
	"math/rand"
)

// DataSet iterates over data records in batches, in file order or shuffled.
type DataSet struct {
	Data         []*DataRecord
	BatchSize    int
	Rand         *rand.Rand
	dataIndices  []int
	currentOrder []int
	currentIndex int
}

type DatasetOrder int

const (
	OriginalOrder DatasetOrder = iota
	RandomOrder
)

func NewDataSet(data []*DataRecord, batchSize int, seed int64) *DataSet {
	dataIndices := make([]int, len(data))
	for i := range dataIndices {
		dataIndices[i] = i
	}
	return newDataSet(data, batchSize, dataIndices, rand.New(rand.NewSource(seed)))
}

func newDataSet(data []*DataRecord, batchSize int, indices []int, rnd *rand.Rand) *DataSet {
	if batchSize <= 0 {
		batchSize = 1
	}
	ds := &DataSet{Data: data, BatchSize: batchSize, Rand: rnd, dataIndices: indices}
	ds.ResetOrder(OriginalOrder)
	return ds
}

func (d *DataSet) ResetOrder(order DatasetOrder) {
	if d.currentOrder == nil {
		d.currentOrder = make([]int, len(d.dataIndices))
	}
	switch order {
	case OriginalOrder:
		copy(d.currentOrder, d.dataIndices)
	case RandomOrder:
		for i, j := range d.Rand.Perm(len(d.currentOrder)) {
			d.currentOrder[i] = d.dataIndices[j]
		}
	}
	d.currentIndex = 0
}

// Next returns the next batch, empty once the epoch is over.
func (d *DataSet) Next() DataBatch {
	batch := make(DataBatch, 0, d.BatchSize)
	for ; d.currentIndex < len(d.currentOrder) && len(batch) < d.BatchSize; d.currentIndex++ {
		batch = append(batch, d.Data[d.currentOrder[d.currentIndex]])
	}
	return batch
}

func (d *DataSet) Size() int {
	return len(d.dataIndices)
}

// Records returns the records of the data set in original order.
func (d *DataSet) Records() []*DataRecord {
	records := make([]*DataRecord, len(d.dataIndices))
	for i, index := range d.dataIndices {
		records[i] = d.Data[index]
	}
	return records
}

// RandomSplit shuffles the data set and splits it into data sets of the given sizes.
func (d *DataSet) RandomSplit(sizes ...int) []*DataSet {
	indices := make([]int, len(d.dataIndices))
	copy(indices, d.dataIndices)
	d.Rand.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
	splits := make([]*DataSet, len(sizes))
	start := 0
	for i, size := range sizes {
		splitIndices := make([]int, size)
		copy(splitIndices, indices[start:start+size])
		start += size
		splits[i] = newDataSet(d.Data, d.BatchSize, splitIndices, d.Rand)
	}
	return splits
}
