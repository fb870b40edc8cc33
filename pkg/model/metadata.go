package model

// NameMap implements a bidirectional mapping between a name and an index
type NameMap struct {
	NameToIndex map[string]int
	IndexToName map[int]string
	// FirstIndex is the index assigned to the first name added by ValueFor.
	FirstIndex int
}

func (f NameMap) Set(name string, index int) {
	f.NameToIndex[name] = index
	f.IndexToName[index] = name
}

func (f NameMap) Size() int {
	return len(f.IndexToName)
}

func (f NameMap) ContainsName(name string) (int, bool) {
	index, ok := f.NameToIndex[name]
	return index, ok
}

// ValueFor returns the index of name, adding it when it is not known yet.
func (f NameMap) ValueFor(name string) int {
	index, ok := f.NameToIndex[name]
	if !ok {
		index = f.FirstIndex + f.Size()
		f.Set(name, index)
	}
	return index
}

func NewNameMap() NameMap {
	return NameMap{
		NameToIndex: map[string]int{},
		IndexToName: map[int]string{},
	}
}

// NewVocabulary returns a NameMap whose index 0 is reserved for unknown values.
func NewVocabulary() NameMap {
	m := NewNameMap()
	m.FirstIndex = 1
	return m
}

// ColumnMap is a bidirectional mapping between a data row column index and a feature position
type ColumnMap struct {
	ColumnToIndex map[int]int
	IndexToColumn map[int]int
}

func (f ColumnMap) Set(column int, index int) {
	f.ColumnToIndex[column] = index
	f.IndexToColumn[index] = column
}

func (f ColumnMap) Size() int {
	return len(f.ColumnToIndex)
}

func (f ColumnMap) GetColumn(column int) (int, bool) {
	index, ok := f.ColumnToIndex[column]
	return index, ok
}

// Add appends column as the next feature position.
func (f ColumnMap) Add(column int) {
	f.Set(column, f.Size())
}

func NewColumnMap() ColumnMap {
	return ColumnMap{
		ColumnToIndex: map[int]int{},
		IndexToColumn: map[int]int{},
	}
}

type ColumnType int

const (
	Numerical ColumnType = iota
	Categorical
	Time
)

type Metadata struct {
	Columns []string

	// NumericalFeaturesMap maps a data row column index to the numerical features position
	NumericalFeaturesMap ColumnMap

	// CategoricalFeaturesMap maps a data row column index to the categorical features position
	CategoricalFeaturesMap ColumnMap

	// TimeFeaturesMap maps a data row column index to the time slot
	TimeFeaturesMap ColumnMap

	// CategoricalValues holds the vocabulary of every categorical feature position
	CategoricalValues []NameMap

	// TargetColumn points to the column in the data row that contains the prediction target
	TargetColumn int

	// TargetType is Categorical for classification and Numerical for regression
	TargetType ColumnType

	// TargetMap contains a mapping of target category names to target category indexes
	TargetMap NameMap
}

func NewMetadata() *Metadata {
	return &Metadata{
		NumericalFeaturesMap:   NewColumnMap(),
		CategoricalFeaturesMap: NewColumnMap(),
		TimeFeaturesMap:        NewColumnMap(),
		TargetMap:              NewNameMap(),
	}
}

func (d *Metadata) FeatureCount() int {
	return d.CategoricalFeaturesMap.Size() + d.NumericalFeaturesMap.Size()
}

// Features returns the names of the features of type t in feature position order.
func (d *Metadata) Features(t ColumnType) []string {
	columns := d.featureMap(t)
	names := make([]string, columns.Size())
	for index, column := range columns.IndexToColumn {
		names[index] = d.Columns[column]
	}
	return names
}

func (d *Metadata) featureMap(t ColumnType) ColumnMap {
	switch t {
	case Categorical:
		return d.CategoricalFeaturesMap
	case Time:
		return d.TimeFeaturesMap
	default:
		return d.NumericalFeaturesMap
	}
}

func (d *Metadata) TargetName() string {
	return d.Columns[d.TargetColumn]
}

// NumClasses is the number of target classes, 0 for regression.
func (d *Metadata) NumClasses() int {
	if d.TargetType != Categorical {
		return 0
	}
	return d.TargetMap.Size()
}

func (d *Metadata) ParseOrAddCategoricalTarget(value string) float64 {
	return float64(d.TargetMap.ValueFor(value))
}

func (d *Metadata) ParseCategoricalTarget(value string) (float64, bool) {
	target, ok := d.TargetMap.ContainsName(value)
	return float64(target), ok
}
