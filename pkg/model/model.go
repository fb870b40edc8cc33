package model

// Model is what gets saved after training: the data layout and the trained network.
type Model struct {
	MetaData    *Metadata
	Transformer *FTTransformer
}
