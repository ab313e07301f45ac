// Package classify assigns a coarse category to an app by its package name.
// It is a table of well-known packages, prefixes and name keywords; anything
// unmatched lands in CategoryOther.
package classify

import "strings"

// Category identifiers. Stored in session rows, so values are stable.
const (
	CategoryOther         = 0
	CategorySocial        = 1
	CategoryVideo         = 2
	CategoryGame          = 3
	CategoryCommunication = 4
	CategoryProductivity  = 5
	CategoryMusic         = 6
	CategoryNews          = 7
	CategoryShopping      = 8
	CategoryEducation     = 9
	CategoryBrowser       = 10
)

// CategoryName returns a display name for a category id.
func CategoryName(id int) string {
	switch id {
	case CategorySocial:
		return "Social"
	case CategoryVideo:
		return "Video"
	case CategoryGame:
		return "Games"
	case CategoryCommunication:
		return "Communication"
	case CategoryProductivity:
		return "Productivity"
	case CategoryMusic:
		return "Music"
	case CategoryNews:
		return "News"
	case CategoryShopping:
		return "Shopping"
	case CategoryEducation:
		return "Education"
	case CategoryBrowser:
		return "Browser"
	}
	return "Other"
}

// Exact package matches take priority over keyword heuristics.
var knownPackages = map[string]int{
	"com.instagram.android":             CategorySocial,
	"com.twitter.android":               CategorySocial,
	"com.facebook.katana":               CategorySocial,
	"com.reddit.frontpage":              CategorySocial,
	"com.zhiliaoapp.musically":          CategoryVideo,
	"com.ss.android.ugc.aweme":          CategoryVideo,
	"com.google.android.youtube":        CategoryVideo,
	"com.netflix.mediaclient":           CategoryVideo,
	"tv.danmaku.bili":                   CategoryVideo,
	"com.whatsapp":                      CategoryCommunication,
	"org.telegram.messenger":            CategoryCommunication,
	"com.tencent.mm":                    CategoryCommunication,
	"com.discord":                       CategoryCommunication,
	"com.spotify.music":                 CategoryMusic,
	"com.tencent.qqmusic":               CategoryMusic,
	"com.amazon.mShop.android.shopping": CategoryShopping,
	"com.taobao.taobao":                 CategoryShopping,
	"com.android.chrome":                CategoryBrowser,
	"org.mozilla.firefox":               CategoryBrowser,
	"com.duolingo":                      CategoryEducation,
	"com.google.android.apps.docs":      CategoryProductivity,
	"com.microsoft.office.outlook":      CategoryProductivity,
	"com.google.android.gm":             CategoryProductivity,
}

var prefixCategories = []struct {
	prefix   string
	category int
}{
	{"com.supercell.", CategoryGame},
	{"com.king.", CategoryGame},
	{"com.mojang.", CategoryGame},
	{"com.tencent.tmgp.", CategoryGame},
	{"com.netease.", CategoryGame},
	{"com.miHoYo.", CategoryGame},
}

var keywordCategories = []struct {
	keyword  string
	category int
}{
	{"game", CategoryGame},
	{"news", CategoryNews},
	{"music", CategoryMusic},
	{"browser", CategoryBrowser},
	{"mail", CategoryProductivity},
	{"shop", CategoryShopping},
	{"learn", CategoryEducation},
	{"video", CategoryVideo},
	{"chat", CategoryCommunication},
	{"messenger", CategoryCommunication},
}

// Classify returns the category id for a package name.
func Classify(packageName string) int {
	if c, ok := knownPackages[packageName]; ok {
		return c
	}
	for _, p := range prefixCategories {
		if strings.HasPrefix(packageName, p.prefix) {
			return p.category
		}
	}
	lower := strings.ToLower(packageName)
	for _, k := range keywordCategories {
		if strings.Contains(lower, k.keyword) {
			return k.category
		}
	}
	return CategoryOther
}
