package merger

import "fmt"

// Login page
const (
	selUsername     = "#username"
	selPassword     = "#password"
	selLoginSubmit  = "input[type='submit']"
	selCookieAccept = "#onetrust-accept-btn-handler"
)

// Admin menu
const (
	selAdminMenu      = "button[aria-label='Admin']"
	selMergeUsersLink = "#MENU_LINK_ID_comexlibrisdpsadmgeneralmenuadvancedgeneralgeneralHeaderMergeUsers"
)

// Merge wizard
const (
	selAddJob       = "xpath=//a[normalize-space()='Add Job']"
	selPickupFrom   = "#PICKUP_ID_pageBeandisplayNameOfFromUserOrUserIdendifier"
	selPickupTo     = "#PICKUP_ID_pageBeandisplayNameOfToUserOrUserIdendifier"
	selMergeButton  = "#PAGE_BUTTONS_cbuttonmerge"
	selConfirmMerge = "#PAGE_BUTTONS_cbuttonconfirmationconfirm"
)

// User search popup
const (
	selSearchFrame     = "#iframePopupIframe"
	selSearchIndex     = "#simpleSearchIndexButton"
	selSearchPrimaryID = `[id="TOP_NAV_Search_index_HFrUser.user_name"]`
	selSearchText      = "#ALMA_MENU_TOP_NAV_Search_Text"
	selSearchButton    = "#simpleSearchBtn"
	selUserTable       = "#TABLE_DATA_userList"
	selUserRows        = "#TABLE_DATA_userList tbody tr"
)

// CopyOptions are the wizard checkboxes that must be selected before
// merging, in page order.
var CopyOptions = []string{
	"PARAM_COPY_ATTACHMENTS",
	"PARAM_COPY_NOTES",
	"PARAM_COPY_DEMERITS",
	"PARAM_COPY_PROXY_OF",
}

func checkboxSelector(param string) string {
	return fmt.Sprintf("xpath=//input[@type='checkbox' and @value='%s']", param)
}

func checkboxLabelSelector(param string) string {
	return checkboxSelector(param) + "/following-sibling::label[1]"
}
