package core

// osiFeatures is the interface-string set \_OSI answers Ones for. It tracks
// the Windows NT behavior the namespace advertises through \_OS_.
var osiFeatures = []string{
	"Windows 2000",
	"Windows 2001",
	"Windows 2001 SP1",
	"Windows 2001.1",
	"Windows 2001 SP2",
	"Windows 2001.1 SP1",
	"Windows 2006.1",
	"Windows 2006 SP1",
	"Windows 2006 SP2",
	"Windows 2006",
	"Windows 2009",
	"Windows 2012",
	"Windows 2013",
	"Windows 2015",
	"Windows 2016",
	"Windows 2017",
	"Windows 2017.2",
	"Windows 2018",
	"Windows 2018.2",
	"Windows 2019",
}

// osiMethod is the native body of \_OSI.
func osiMethod(c *Context, args []*Object) (*Object, Status) {
	if len(args) != 1 {
		return nil, StatusInvalidArgs
	}
	query, status := c.convert(args[0], KindString)
	if status != StatusSuccess {
		return nil, status
	}
	name := string(query.str)
	for _, feature := range osiFeatures {
		if feature == name {
			return newInteger(onesValue(c.intSize)), StatusSuccess
		}
	}
	return newInteger(0), StatusSuccess
}

func onesValue(intSize uint8) uint64 {
	if intSize == 4 {
		return 0xFFFFFFFF
	}
	return 0xFFFFFFFFFFFFFFFF
}
