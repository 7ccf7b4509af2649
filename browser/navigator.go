package browser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/hostrt/binding"
	"github.com/chazu/hostrt/capability"
	"github.com/chazu/hostrt/vm"
)

type navigatorState struct {
	profile capability.Profile
}

// versionString renders 55 as "55.0" and 10.5 as "10.5".
func versionString(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v == float64(int64(v)) {
		s += ".0"
	}
	return s
}

// userAgent builds a getter from a user agent template with one %s verb
// for the version.
func userAgent(format string) vm.NativeFunc {
	return func(c *vm.Call) (vm.Value, error) {
		n, err := state[*navigatorState](c)
		if err != nil {
			return vm.Undefined, err
		}
		return vm.String(fmt.Sprintf(format, versionString(n.profile.Version))), nil
	}
}

// appVersion is the user agent without its "Mozilla/" prefix.
func appVersion(c *vm.Call) (vm.Value, error) {
	if _, err := state[*navigatorState](c); err != nil {
		return vm.Undefined, err
	}
	v, _, err := c.ThisObject().GetWith(c.Interp, "userAgent")
	if err != nil {
		return vm.Undefined, err
	}
	return vm.String(strings.TrimPrefix(v.ToString(), "Mozilla/")), nil
}

func navigatorType() binding.TypeDef {
	return binding.TypeDef{
		Name: TypeNavigator,
		Members: []binding.Member{
			getter("Navigator.userAgent#msie",
				userAgent("Mozilla/4.0 (compatible; MSIE %s; Windows NT 6.1; Trident/4.0)"), legacyIE),
			getter("Navigator.userAgent#trident",
				userAgent("Mozilla/5.0 (Windows NT 6.1; Trident/7.0; rv:%s) like Gecko"),
				[]capability.Exposure{capability.Since(capability.InternetExplorer, 11)}),
			getter("Navigator.userAgent#firefox",
				userAgent("Mozilla/5.0 (Windows NT 6.1; rv:%[1]s) Gecko/20100101 Firefox/%[1]s"),
				[]capability.Exposure{capability.Always(capability.Firefox)}),
			getter("Navigator.userAgent#chrome",
				userAgent("Mozilla/5.0 (Windows NT 6.1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36"),
				[]capability.Exposure{capability.Always(capability.Chrome)}),
			getter("Navigator.userAgent#edge",
				userAgent("Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/64.0 Safari/537.36 Edge/%s"),
				[]capability.Exposure{capability.Always(capability.Edge)}),
			getter("Navigator.appName#ie", value(vm.String("Microsoft Internet Explorer")), legacyIE),
			getter("Navigator.appName#std", value(vm.String("Netscape")), []capability.Exposure{
				capability.Always(capability.Firefox),
				capability.Since(capability.InternetExplorer, 11),
				capability.Always(capability.Chrome),
				capability.Always(capability.Edge),
			}),
			getter("Navigator.appVersion", appVersion, everywhere),
			getter("Navigator.platform", value(vm.String("Win32")), everywhere),
			getter("Navigator.cookieEnabled", value(vm.True), everywhere),
			getter("Navigator.product", value(vm.String("Gecko")), nonIE),
			method("Navigator.javaEnabled", 0, value(vm.False), everywhere),
		},
	}
}
