package diagnosis

type Category string

const (
	Rice      Category = "rice"
	Corn      Category = "corn"
	Cassava   Category = "cassava"
	Sugarcane Category = "sugarcane"
	Vegetable Category = "vegetable"
	Fruit     Category = "fruit"
	OtherCrop Category = "other"
)

// Categories в порядке показа пользователю.
var Categories = []Category{Rice, Corn, Cassava, Sugarcane, Vegetable, Fruit, OtherCrop}

var categoryInfo = map[Category]struct{ en, th string }{
	Rice:      {"Rice", "ข้าว"},
	Corn:      {"Corn", "ข้าวโพด"},
	Cassava:   {"Cassava", "มันสำปะหลัง"},
	Sugarcane: {"Sugarcane", "อ้อย"},
	Vegetable: {"Vegetable", "พืชผัก"},
	Fruit:     {"Fruit tree", "ไม้ผล"},
	OtherCrop: {"Other", "อื่นๆ"},
}

func (c Category) Valid() bool {
	_, ok := categoryInfo[c]
	return ok
}

func (c Category) Label() string {
	if i, ok := categoryInfo[c]; ok {
		return i.en
	}
	return string(c)
}

func (c Category) LocalName() string { return categoryInfo[c].th }

// Классы, которыми ограничен ответ модели для риса. Для остальных культур класс свободный.
const (
	ClassHealthy    = "healthy"
	ClassRiceTungro = "rice_tungro"
	ClassRiceBlast  = "rice_blast"
	ClassBrownSpot  = "brown_spot"
)

func (c Category) AllowedClasses() []string {
	if c == Rice {
		return []string{ClassHealthy, ClassRiceTungro, ClassRiceBlast, ClassBrownSpot}
	}
	return nil
}

type Part string

const (
	Leaf      Part = "leaf"
	Stem      Part = "stem"
	Root      Part = "root"
	Sheath    Part = "sheath"
	OtherPart Part = "other"
)

var Parts = []Part{Leaf, Stem, Root, Sheath, OtherPart}

var partInfo = map[Part]struct{ en, th string }{
	Leaf:      {"Leaf", "ใบ"},
	Stem:      {"Stem", "ลำต้น"},
	Root:      {"Root", "ราก"},
	Sheath:    {"Leaf sheath", "กาบใบ"},
	OtherPart: {"Other", "อื่นๆ"},
}

func (p Part) Valid() bool {
	_, ok := partInfo[p]
	return ok
}

func (p Part) Label() string {
	if i, ok := partInfo[p]; ok {
		return i.en
	}
	return string(p)
}

func (p Part) LocalName() string { return partInfo[p].th }
